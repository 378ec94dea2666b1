package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/hostwatch/internal/disk"
	"github.com/miradorstack/hostwatch/internal/hosts"
	"github.com/miradorstack/hostwatch/internal/models"
)

const gib = 1 << 30

func statTable(free map[string]uint64) disk.StatFunc {
	return func(path string) (uint64, uint64, error) {
		f, ok := free[path]
		if !ok {
			return 0, 0, errors.New("no such file or directory")
		}
		return 100 * gib, f, nil
	}
}

func TestDiskServiceHealthyIsQuiet(t *testing.T) {
	notifier := &captureNotifier{}
	svc := NewDiskService(quietLogger, DiskConfig{Paths: []string{"/", "/var"}},
		disk.NewChecker(15, 5, statTable(map[string]uint64{"/": 50 * gib, "/var": 40 * gib})), notifier)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, disk.LevelOK, report.Worst())
	assert.False(t, report.Alerted)
	assert.Empty(t, notifier.events)
}

func TestDiskServiceSeverityFollowsWorstPath(t *testing.T) {
	cases := []struct {
		name     string
		free     map[string]uint64
		want     models.Severity
		wantText string
	}{
		{name: "warning", free: map[string]uint64{"/": 10 * gib, "/var": 50 * gib}, want: models.SeverityWarning, wantText: "/:"},
		{name: "critical", free: map[string]uint64{"/": 10 * gib, "/var": 2 * gib}, want: models.SeverityCritical, wantText: "/var"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notifier := &captureNotifier{}
			svc := NewDiskService(quietLogger, DiskConfig{Paths: []string{"/", "/var"}},
				disk.NewChecker(15, 5, statTable(tc.free)), notifier)

			report, err := svc.Run(context.Background())
			require.NoError(t, err)
			assert.True(t, report.Alerted)
			require.Len(t, notifier.events, 1)
			assert.Equal(t, tc.want, notifier.events[0].Severity)
			assert.Contains(t, notifier.events[0].Text, tc.wantText)
		})
	}
}

func TestDiskServiceUnreachablePath(t *testing.T) {
	notifier := &captureNotifier{}
	svc := NewDiskService(quietLogger, DiskConfig{Paths: []string{"/", "/mnt/backup"}},
		disk.NewChecker(15, 5, statTable(map[string]uint64{"/": 50 * gib})), notifier)

	report, err := svc.Run(context.Background())
	require.ErrorIs(t, err, disk.ErrUnreachable)
	assert.Equal(t, disk.LevelUnreachable, report.Worst())
	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.SeverityCritical, notifier.events[0].Severity)
	assert.Contains(t, notifier.events[0].Text, "/mnt/backup")
}

func TestDiskServiceDiagnosticConfirmsHealthy(t *testing.T) {
	notifier := &captureNotifier{}
	svc := NewDiskService(quietLogger, DiskConfig{Paths: []string{"/"}, Diagnostic: true},
		disk.NewChecker(15, 5, statTable(map[string]uint64{"/": 50 * gib})), notifier)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.SeveritySuccess, notifier.events[0].Severity)
}

func TestDiskServiceExcludedHost(t *testing.T) {
	notifier := &captureNotifier{}
	svc := NewDiskService(quietLogger, DiskConfig{
		Paths:      []string{"/missing"},
		Hostname:   "lab-3",
		HostFilter: hosts.NewFilter([]string{"lab-*"}),
	}, disk.NewChecker(15, 5, statTable(nil)), notifier)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Excluded)
	assert.Empty(t, report.Usage)
	assert.Empty(t, notifier.events)
}
