// Package status observes and restarts host services.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/miradorstack/hostwatch/internal/models"
)

var (
	// ErrNotFound means the service name does not resolve to a unit on this host.
	ErrNotFound = errors.New("service not found")
	// ErrTransientQuery means the status query itself failed.
	ErrTransientQuery = errors.New("service status query failed")
)

// Evaluator reports the run state of services. Implementations return exactly one
// observation per name, in input order, and never retry.
type Evaluator interface {
	Evaluate(ctx context.Context, names []string) []models.ServiceObservation
}

// Restarter issues a restart command for a single service.
type Restarter interface {
	Restart(ctx context.Context, name string) error
}

// RestartKind classifies a failed restart command.
type RestartKind int

const (
	KindCommandFailed RestartKind = iota
	KindPermissionDenied
)

func (k RestartKind) String() string {
	if k == KindPermissionDenied {
		return "permission denied"
	}
	return "command failed"
}

// RestartError is returned when the restart command fails synchronously.
type RestartError struct {
	Service string
	Kind    RestartKind
	Output  string
	Err     error
}

func (e *RestartError) Error() string {
	msg := fmt.Sprintf("restart %s: %s", e.Service, e.Kind)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RestartError) Unwrap() error { return e.Err }

var permissionPatterns = []string{
	"access denied",
	"permission denied",
	"interactive authentication required",
	"operation not permitted",
	"not permitted",
	"must be root",
}

// ClassifyRestartFailure picks the failure class from the command output.
func ClassifyRestartFailure(output string, exitCode int) RestartKind {
	// systemctl uses LSB exit status 4 for insufficient privilege.
	if exitCode == 4 {
		return KindPermissionDenied
	}
	lower := strings.ToLower(output)
	for _, pattern := range permissionPatterns {
		if strings.Contains(lower, pattern) {
			return KindPermissionDenied
		}
	}
	return KindCommandFailed
}

// ObserveOne evaluates a single service.
func ObserveOne(ctx context.Context, ev Evaluator, name string) models.ServiceObservation {
	obs := ev.Evaluate(ctx, []string{name})
	if len(obs) == 0 {
		return models.ServiceObservation{Name: name, State: models.StateUnknown, Err: ErrTransientQuery}
	}
	return obs[0]
}
