package models

import (
	"fmt"
	"time"
)

// RunState is the observed run state of a service.
type RunState int

const (
	StateUnknown RunState = iota
	StateRunning
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ServiceSpec is the per-run view of a configured service.
type ServiceSpec struct {
	Name                string
	Monitored           bool
	AutoRestartEligible bool
}

// ServiceObservation is the result of querying a single service. Err carries the
// query failure (not found, transient) when State is StateUnknown.
type ServiceObservation struct {
	Name   string
	State  RunState
	Detail string
	Err    error
}

// Healthy reports whether the service was observed running. Unknown is never healthy.
func (o ServiceObservation) Healthy() bool {
	return o.State == StateRunning
}

// FailureRecord tracks unresolved restart attempts for one service.
type FailureRecord struct {
	Service      string
	AttemptCount int
	LastAttempt  time.Time
}

// Age returns the time elapsed since the last attempt.
func (r FailureRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.LastAttempt)
}

func (r FailureRecord) String() string {
	return fmt.Sprintf("%s attempts=%d last=%s", r.Service, r.AttemptCount, r.LastAttempt.UTC().Format(time.RFC3339))
}
