package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/miradorstack/hostwatch/internal/disk"
	"github.com/miradorstack/hostwatch/internal/engine"
	"github.com/miradorstack/hostwatch/internal/hosts"
	"github.com/miradorstack/hostwatch/internal/runlock"
	"github.com/miradorstack/hostwatch/internal/services"
	"github.com/miradorstack/hostwatch/internal/status"
	"github.com/miradorstack/hostwatch/internal/utils"
)

// Run results recorded in hostwatch_runs_total.
const (
	resultOK        = "ok"
	resultAlerted   = "alerted"
	resultExcluded  = "excluded"
	resultNoTargets = "no_targets"
	resultFailed    = "failed"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	check := &cobra.Command{
		Use:   "check",
		Short: "Run health checks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServicesCheck(cmd, opts)
		},
	}
	check.AddCommand(
		&cobra.Command{
			Use:   "services",
			Short: "Check monitored services and restart eligible ones that are down",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServicesCheck(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "disk",
			Short: "Check free space on the configured paths",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDiskCheck(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "all",
			Short: "Run the service check, then the disk check",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return multierr.Append(runServicesCheck(cmd, opts), runDiskCheck(cmd, opts))
			},
		},
	)
	return check
}

// acquireLock returns ok=false when another invocation holds the lock; that is not an
// error, the overlapping run simply does nothing.
func acquireLock(a *app) (*runlock.Lock, bool, error) {
	lock, err := runlock.Acquire(a.cfg.Run.LockFile)
	if errors.Is(err, runlock.ErrHeld) {
		a.logger.Info("previous invocation still running, skipping", slog.String("lock", a.cfg.Run.LockFile))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, utils.WithExitCode(exitFailure, err)
	}
	return lock, true, nil
}

func runServicesCheck(cmd *cobra.Command, opts *rootOptions) error {
	a, err := bootstrap(opts)
	if err != nil {
		return err
	}
	started := time.Now()
	ctx := cmd.Context()

	lock, ok, err := acquireLock(a)
	if !ok {
		return err
	}
	defer lock.Release()

	store := a.openStore()
	defer closeStore(a.logger, store)

	systemd := status.NewSystemdEvaluator(a.logger,
		status.ExecRunner{Timeout: a.cfg.Services.CommandTimeout}, a.cfg.Services.Systemctl)
	var (
		evaluator status.Evaluator = systemd
		restarter status.Restarter = systemd
	)
	if len(a.cfg.Services.GRPCHealth) > 0 {
		probe := status.NewGRPCHealthProbe(systemd, a.logger, a.cfg.Services.GRPCHealth,
			a.cfg.Services.GRPCHealthTimeout, a.grpcMetrics)
		evaluator, restarter = probe, probe
	}

	notifier := a.notifier()
	escalation := engine.NewEscalationEngine(a.logger, store, evaluator, restarter, notifier, engine.Config{
		MaxAttempts: a.cfg.Escalation.MaxAttempts,
		ResetWindow: a.cfg.Escalation.ResetWindow,
		RestartWait: a.cfg.Escalation.RestartWait,
	})

	specs, unmonitored := a.cfg.ServiceSpecs()
	monitor := services.NewMonitorService(a.logger, services.MonitorConfig{
		Services:           specs,
		UnmonitoredRestart: unmonitored,
		Hostname:           a.host,
		HostFilter:         hosts.NewFilter(a.cfg.Hosts.Exclude),
		Diagnostic:         a.cfg.Diagnostic,
	}, evaluator, escalation, store, notifier)

	a.logger.Info("service check started",
		slog.Int("monitored", len(specs)),
		slog.Bool("diagnostic", a.cfg.Diagnostic))

	report, err := monitor.Run(ctx)
	result := resultOK
	switch {
	case errors.Is(err, services.ErrNoValidTargets):
		result = resultNoTargets
	case err != nil:
		result = resultFailed
	case report.Excluded:
		result = resultExcluded
	case report.Alerted:
		result = resultAlerted
	}
	a.flushMetrics("services", result, started)

	a.logger.Info("service check finished",
		slog.String("result", result),
		slog.Int("down", len(report.Down)),
		slog.Int("escalated", len(report.Outcomes)),
		slog.Duration("elapsed", time.Since(started)))

	if err != nil {
		return utils.WithExitCode(exitFailure, err)
	}
	return nil
}

func runDiskCheck(cmd *cobra.Command, opts *rootOptions) error {
	a, err := bootstrap(opts)
	if err != nil {
		return err
	}
	started := time.Now()

	lock, ok, err := acquireLock(a)
	if !ok {
		return err
	}
	defer lock.Release()

	svc := services.NewDiskService(a.logger, services.DiskConfig{
		Paths:      a.cfg.Disk.Paths,
		Hostname:   a.host,
		HostFilter: hosts.NewFilter(a.cfg.Hosts.Exclude),
		Diagnostic: a.cfg.Diagnostic,
	}, disk.NewChecker(a.cfg.Disk.WarnFreePercent, a.cfg.Disk.CriticalFreePercent, nil), a.notifier())

	report, err := svc.Run(cmd.Context())
	result := resultOK
	switch {
	case err != nil:
		result = resultFailed
	case report.Excluded:
		result = resultExcluded
	case report.Alerted:
		result = resultAlerted
	}
	a.flushMetrics("disk", result, started)
	a.logger.Info("disk check finished",
		slog.String("result", result),
		slog.String("worst", report.Worst().String()))

	if err != nil {
		return utils.WithExitCode(exitFailure, err)
	}
	return nil
}
