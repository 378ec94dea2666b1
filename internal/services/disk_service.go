package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/hostwatch/internal/disk"
	"github.com/miradorstack/hostwatch/internal/engine"
	"github.com/miradorstack/hostwatch/internal/hosts"
	"github.com/miradorstack/hostwatch/internal/metrics"
	"github.com/miradorstack/hostwatch/internal/models"
)

// DiskConfig is the per-run input of DiskService.
type DiskConfig struct {
	Paths      []string
	Hostname   string
	HostFilter hosts.Filter
	Diagnostic bool
}

// DiskReport describes one free-space pass.
type DiskReport struct {
	Host       string
	Excluded   bool
	ExcludedBy string
	Usage      []disk.Usage
	Alerted    bool
}

// Worst returns the most severe level seen.
func (r DiskReport) Worst() disk.Level {
	worst := disk.LevelOK
	for _, u := range r.Usage {
		if u.Level > worst {
			worst = u.Level
		}
	}
	return worst
}

// DiskService runs the free-space companion check.
type DiskService struct {
	logger   *slog.Logger
	cfg      DiskConfig
	checker  *disk.Checker
	notifier engine.Notifier
}

// NewDiskService constructs the disk check.
func NewDiskService(logger *slog.Logger, cfg DiskConfig, checker *disk.Checker, notifier engine.Notifier) *DiskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskService{logger: logger, cfg: cfg, checker: checker, notifier: notifier}
}

// Run checks every configured path and sends at most one alert. An unreachable path
// is reported and also returned as an error wrapping disk.ErrUnreachable.
func (s *DiskService) Run(ctx context.Context) (DiskReport, error) {
	report := DiskReport{Host: s.cfg.Hostname}

	if pattern, excluded := s.cfg.HostFilter.Excluded(s.cfg.Hostname); excluded {
		s.logger.Info("host excluded from disk check", slog.String("pattern", pattern))
		report.Excluded, report.ExcludedBy = true, pattern
		return report, nil
	}

	report.Usage = s.checker.Check(s.cfg.Paths)

	var unreachable error
	lines := make([]string, 0, len(report.Usage))
	for _, u := range report.Usage {
		log := s.logger.With(slog.String("path", u.Path), slog.String("level", u.Level.String()))
		if u.Level == disk.LevelUnreachable {
			log.Error("storage path unreachable", slog.Any("error", u.Err))
			if unreachable == nil {
				unreachable = u.Err
			}
		} else {
			metrics.SetDiskFree(u.Path, u.FreePercent()/100)
			log.Info("disk usage", slog.Float64("free_percent", u.FreePercent()))
		}
		if u.Level != disk.LevelOK {
			lines = append(lines, "- "+u.Describe())
		}
	}

	worst := report.Worst()
	switch {
	case worst != disk.LevelOK:
		severity := models.SeverityWarning
		if worst >= disk.LevelCritical {
			severity = models.SeverityCritical
		}
		s.notifier.Notify(ctx, models.AlertEvent{
			Severity: severity,
			Text:     fmt.Sprintf("Disk check needs attention:\n%s", strings.Join(lines, "\n")),
		})
		report.Alerted = true
	case s.cfg.Diagnostic:
		all := make([]string, 0, len(report.Usage))
		for _, u := range report.Usage {
			all = append(all, "- "+u.Describe())
		}
		s.notifier.Notify(ctx, models.AlertEvent{
			Severity: models.SeveritySuccess,
			Text:     fmt.Sprintf("Diagnostic: disk space OK on %d paths:\n%s", len(report.Usage), strings.Join(all, "\n")),
		})
		report.Alerted = true
	}

	return report, unreachable
}
