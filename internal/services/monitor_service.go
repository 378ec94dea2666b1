package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/hostwatch/internal/engine"
	"github.com/miradorstack/hostwatch/internal/hosts"
	"github.com/miradorstack/hostwatch/internal/metrics"
	"github.com/miradorstack/hostwatch/internal/models"
	"github.com/miradorstack/hostwatch/internal/records"
	"github.com/miradorstack/hostwatch/internal/status"
)

// ErrNoValidTargets means not a single monitored service could be evaluated.
var ErrNoValidTargets = errors.New("no valid monitored services")

// Escalator runs one escalation step for a stopped service.
type Escalator interface {
	Escalate(ctx context.Context, service string) engine.Outcome
}

// MonitorConfig is the immutable per-run input of MonitorService.
type MonitorConfig struct {
	Services []models.ServiceSpec
	// UnmonitoredRestart lists restart-list names missing from the monitored list.
	UnmonitoredRestart []string
	Hostname           string
	HostFilter         hosts.Filter
	Diagnostic         bool
}

// RunReport describes what one pass observed and did.
type RunReport struct {
	Host         string
	Excluded     bool
	ExcludedBy   string
	Observations []models.ServiceObservation
	NotFound     []string
	Down         []string
	Alerted      bool
	Outcomes     []engine.Outcome
}

// MonitorService runs the single evaluate-report-escalate pass.
type MonitorService struct {
	logger    *slog.Logger
	cfg       MonitorConfig
	evaluator status.Evaluator
	escalator Escalator
	store     records.Store
	notifier  engine.Notifier
}

// NewMonitorService constructs the orchestrator.
func NewMonitorService(logger *slog.Logger, cfg MonitorConfig, evaluator status.Evaluator, escalator Escalator, store records.Store, notifier engine.Notifier) *MonitorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorService{
		logger:    logger,
		cfg:       cfg,
		evaluator: evaluator,
		escalator: escalator,
		store:     store,
		notifier:  notifier,
	}
}

// Run executes filter → evaluate → report → escalate.
func (s *MonitorService) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{Host: s.cfg.Hostname}

	if pattern, excluded := s.cfg.HostFilter.Excluded(s.cfg.Hostname); excluded {
		s.logger.Info("host excluded from monitoring", slog.String("pattern", pattern))
		report.Excluded, report.ExcludedBy = true, pattern
		return report, nil
	}

	for _, name := range s.cfg.UnmonitoredRestart {
		s.logger.Warn("service is in the restart list but not monitored, skipping", slog.String("service", name))
	}

	if len(s.cfg.Services) == 0 {
		s.logger.Error("no services configured for monitoring")
		return report, ErrNoValidTargets
	}

	names := make([]string, 0, len(s.cfg.Services))
	for _, spec := range s.cfg.Services {
		names = append(names, spec.Name)
	}
	report.Observations = s.evaluator.Evaluate(ctx, names)

	byName := make(map[string]models.ServiceObservation, len(report.Observations))
	for _, obs := range report.Observations {
		byName[obs.Name] = obs
		metrics.SetServiceUp(obs.Name, obs.Healthy())
		switch {
		case errors.Is(obs.Err, status.ErrNotFound):
			report.NotFound = append(report.NotFound, obs.Name)
			report.Down = append(report.Down, obs.Name)
		case !obs.Healthy():
			report.Down = append(report.Down, obs.Name)
		}
		if obs.Err != nil {
			s.logger.Warn("service status unavailable", slog.String("service", obs.Name), slog.Any("error", obs.Err))
		}
	}

	if len(report.NotFound) > 0 {
		s.notifier.Notify(ctx, models.AlertEvent{
			Severity: models.SeverityWarning,
			Text:     fmt.Sprintf("Configured services not found on this host: %s", strings.Join(report.NotFound, ", ")),
		})
	}
	if len(report.NotFound) == len(s.cfg.Services) {
		return report, ErrNoValidTargets
	}

	report.Alerted = s.reportAggregate(ctx, report)

	for _, spec := range s.cfg.Services {
		obs, ok := byName[spec.Name]
		if !ok {
			continue
		}
		if obs.Healthy() {
			s.clearRecovered(ctx, spec.Name)
			continue
		}
		if !spec.AutoRestartEligible || errors.Is(obs.Err, status.ErrNotFound) {
			continue
		}
		outcome := s.escalator.Escalate(ctx, spec.Name)
		metrics.ObserveEscalation(spec.Name, outcome.Result.String(), outcome.RecordedAttempts)
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return report, nil
}

// reportAggregate sends the run-level status alert. Normal mode alerts when anything
// is down; diagnostic mode alerts only when everything is up.
func (s *MonitorService) reportAggregate(ctx context.Context, report RunReport) bool {
	total := len(s.cfg.Services)
	if s.cfg.Diagnostic {
		if len(report.Down) > 0 {
			s.logger.Info("diagnostic mode: services down, no confirmation sent", slog.Int("down", len(report.Down)))
			return false
		}
		s.notifier.Notify(ctx, models.AlertEvent{
			Severity: models.SeveritySuccess,
			Text:     fmt.Sprintf("Diagnostic: all %d monitored services are running.", total),
		})
		return true
	}

	if len(report.Down) == 0 {
		s.logger.Info("all monitored services running", slog.Int("services", total))
		return false
	}

	lines := make([]string, 0, len(report.Down))
	for _, obs := range report.Observations {
		if obs.Healthy() {
			continue
		}
		line := fmt.Sprintf("- %s: %s", obs.Name, obs.State)
		if obs.Detail != "" {
			line += " (" + obs.Detail + ")"
		}
		lines = append(lines, line)
	}
	s.notifier.Notify(ctx, models.AlertEvent{
		Severity: models.SeverityCritical,
		Text:     fmt.Sprintf("%d of %d monitored services are not running:\n%s", len(report.Down), total, strings.Join(lines, "\n")),
	})
	return true
}

// clearRecovered drops a leftover failure record for a service that came back on its
// own. It writes only when a record exists or cannot be read.
func (s *MonitorService) clearRecovered(ctx context.Context, service string) {
	if s.store == nil {
		return
	}
	rec, found, err := s.store.Get(ctx, service)
	switch {
	case err != nil:
		s.logger.Warn("unreadable failure record for running service, removing it",
			slog.String("service", service), slog.Any("error", err))
	case !found:
		return
	}
	if err := s.store.Delete(ctx, service); err != nil {
		s.logger.Warn("could not clear failure record", slog.String("service", service), slog.Any("error", err))
		return
	}
	metrics.ObserveEscalation(service, "recovered_externally", 0)
	s.logger.Info("service running again, failure record cleared",
		slog.String("service", service), slog.Int("previous_attempts", rec.AttemptCount))
}
