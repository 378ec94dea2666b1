package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/hostwatch/internal/config"
	"github.com/miradorstack/hostwatch/internal/hosts"
	"github.com/miradorstack/hostwatch/internal/metrics"
	"github.com/miradorstack/hostwatch/internal/notify"
	"github.com/miradorstack/hostwatch/internal/records"
	"github.com/miradorstack/hostwatch/internal/utils"
)

type rootOptions struct {
	configPath string
	diagnostic bool
}

// app is the per-invocation wiring shared by every subcommand.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	host        string
	registry    *prometheus.Registry
	grpcMetrics *grpc_prometheus.ClientMetrics
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "hostwatch",
		Short: "Host-local service health monitor with bounded auto-restart",
		Long: `hostwatch checks that configured services are running, alerts a chat webhook
when they are not, and restarts eligible services a bounded number of times
across scheduled invocations. Run it from cron or a systemd timer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config (default $HOSTWATCH_CONFIG)")
	root.PersistentFlags().BoolVar(&opts.diagnostic, "diagnostic", false, "send a confirmation alert when everything is healthy")

	check := newCheckCmd(opts)
	root.AddCommand(check, newRecordsCmd(opts), newNotifyCmd(opts))

	// Bare "hostwatch" runs the service check, so existing cron lines stay short.
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runServicesCheck(cmd, opts)
	}
	return root
}

func bootstrap(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, utils.WithExitCode(exitConfig, utils.NewAppError("config", "cannot load configuration", err))
	}
	if opts.diagnostic {
		cfg.Diagnostic = true
	}

	host := hosts.Hostname()
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON).With(
		slog.String("run_id", uuid.NewString()),
		slog.String("host", host),
	)

	registry := prometheus.NewRegistry()
	grpcMetrics := grpc_prometheus.NewClientMetrics()
	if err := metrics.Register(registry, grpcMetrics); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		host:        host,
		registry:    registry,
		grpcMetrics: grpcMetrics,
	}, nil
}

func (a *app) notifier() *notify.Notifier {
	label := a.cfg.Notify.HostLabel
	if label == "" {
		label = a.host
	}
	if a.cfg.Notify.WebhookURL == "" {
		a.logger.Warn("no webhook configured, alerts go to the log only")
		return notify.NewNotifier(a.logger, nil, label)
	}
	sink, err := notify.NewWebhookSink(a.cfg.Notify.WebhookURL, a.cfg.Notify.Timeout)
	if err != nil {
		a.logger.Warn("webhook sink unavailable, alerts go to the log only", slog.Any("error", err))
		return notify.NewNotifier(a.logger, nil, label)
	}
	return notify.NewNotifier(a.logger, sink, label)
}

// openStore opens the configured backend. When it cannot be opened the run continues
// on an in-memory store: services are still checked and restarted, but attempts are
// not remembered for the next invocation.
func (a *app) openStore() records.Store {
	store, err := records.Open(a.cfg.Records, a.logger)
	if err != nil {
		a.logger.Error("failure record store unavailable, attempts will not be remembered",
			slog.String("backend", a.cfg.Records.Backend), slog.Any("error", err))
		return records.NewMemoryStore(nil)
	}
	return store
}

// flushMetrics records the run and exports the registry.
func (a *app) flushMetrics(check, result string, started time.Time) {
	metrics.ObserveRun(check, result, time.Since(started))
	err := metrics.Flush(a.registry, metrics.Sink{
		Textfile:       a.cfg.Metrics.Textfile,
		PushgatewayURL: a.cfg.Metrics.PushgatewayURL,
		Job:            a.cfg.Metrics.Job,
		Instance:       a.host,
	})
	if err != nil {
		a.logger.Warn("metrics export failed", slog.Any("error", err))
	}
}

func closeStore(logger *slog.Logger, store records.Store) {
	if err := store.Close(); err != nil {
		logger.Warn("closing failure record store", slog.Any("error", err))
	}
}
