package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/hostwatch/internal/models"
	"github.com/miradorstack/hostwatch/internal/records"
	"github.com/miradorstack/hostwatch/internal/status"
)

// Notifier delivers alerts. Delivery failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, event models.AlertEvent) bool
}

// Config bounds escalation.
type Config struct {
	MaxAttempts int
	// ResetWindow is how old a failure record may get before it is discarded and
	// escalation starts over at attempt 1.
	ResetWindow time.Duration
	// RestartWait is the grace period between issuing a restart and re-checking.
	RestartWait time.Duration
}

// Decision is the state a stopped service is in when escalation starts.
type Decision int

const (
	DecisionFresh Decision = iota
	DecisionRetry
	DecisionAbandon
)

func (d Decision) String() string {
	switch d {
	case DecisionFresh:
		return "fresh"
	case DecisionRetry:
		return "retry"
	default:
		return "abandoned"
	}
}

// Result is how escalation ended for this invocation.
type Result int

const (
	ResultRecovered Result = iota
	ResultStillDown
	ResultAbandoned
	ResultPermissionDenied
	ResultCommandFailed
)

func (r Result) String() string {
	switch r {
	case ResultRecovered:
		return "recovered"
	case ResultStillDown:
		return "still_down"
	case ResultAbandoned:
		return "abandoned"
	case ResultPermissionDenied:
		return "permission_denied"
	default:
		return "command_failed"
	}
}

// Outcome summarises one Escalate call.
type Outcome struct {
	Service  string
	Decision Decision
	// Attempt is the attempt made this run, or the recorded count when abandoned.
	Attempt int
	Result  Result
	// RecordedAttempts is the attempt count left on storage (0 when no record remains,
	// or when the write failed).
	RecordedAttempts int
	Err              error
}

// Option customises an EscalationEngine.
type Option func(*EscalationEngine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *EscalationEngine) { e.now = now }
}

// WithSleep overrides the grace-period wait.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *EscalationEngine) { e.sleep = sleep }
}

// EscalationEngine decides, per stopped service, whether to restart it, retry, or give
// up, persisting an attempt record that survives between invocations.
//
// The attempt record is written before the restart command runs and removed only once
// the service is confirmed running, so the stored count is never lower than the number
// of attempts actually made.
type EscalationEngine struct {
	logger    *slog.Logger
	store     records.Store
	evaluator status.Evaluator
	restarter status.Restarter
	notifier  Notifier
	cfg       Config
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewEscalationEngine wires the engine.
func NewEscalationEngine(
	logger *slog.Logger,
	store records.Store,
	evaluator status.Evaluator,
	restarter status.Restarter,
	notifier Notifier,
	cfg Config,
	opts ...Option,
) *EscalationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	e := &EscalationEngine{
		logger:    logger,
		store:     store,
		evaluator: evaluator,
		restarter: restarter,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide classifies a stopped service from its failure record. expired is true when an
// existing record is past the reset window and must be discarded.
func Decide(rec models.FailureRecord, found bool, now time.Time, cfg Config) (decision Decision, attempt int, expired bool) {
	if !found {
		return DecisionFresh, 1, false
	}
	if rec.Age(now) >= cfg.ResetWindow {
		return DecisionFresh, 1, true
	}
	if rec.AttemptCount >= cfg.MaxAttempts {
		return DecisionAbandon, rec.AttemptCount, false
	}
	return DecisionRetry, rec.AttemptCount + 1, false
}

// Escalate runs one escalation step for a stopped, restart-eligible service.
func (e *EscalationEngine) Escalate(ctx context.Context, service string) Outcome {
	log := e.logger.With(slog.String("service", service))

	rec, found, err := e.store.Get(ctx, service)
	if err != nil {
		// Losing the record degrades to "retry", never to "give up".
		log.Warn("failure record unreadable, treating as absent", slog.Any("error", err))
		found = false
	}

	decision, attempt, expired := Decide(rec, found, e.now(), e.cfg)
	if expired {
		log.Info("failure record expired, resetting escalation",
			slog.Int("previous_attempts", rec.AttemptCount),
			slog.Duration("age", rec.Age(e.now())))
		if err := e.store.Delete(ctx, service); err != nil {
			log.Warn("could not delete expired failure record", slog.Any("error", err))
		}
	}

	if decision == DecisionAbandon {
		log.Error("restart attempts exhausted", slog.Int("attempts", rec.AttemptCount), slog.Int("max_attempts", e.cfg.MaxAttempts))
		e.notifier.Notify(ctx, models.AlertEvent{
			Severity: models.SeverityCritical,
			Text: fmt.Sprintf("%s is still down after %d restart attempts (last attempt %s ago). Auto-restart suspended, manual intervention required.",
				service, rec.AttemptCount, rec.Age(e.now()).Round(time.Second)),
		})
		return Outcome{Service: service, Decision: decision, Attempt: rec.AttemptCount, Result: ResultAbandoned, RecordedAttempts: rec.AttemptCount}
	}

	out := Outcome{Service: service, Decision: decision, Attempt: attempt, RecordedAttempts: attempt}

	// The attempt must be durable before the restart runs.
	if err := e.store.Put(ctx, service, attempt); err != nil {
		log.Warn("could not persist failure record", slog.Int("attempt", attempt), slog.Any("error", err))
		out.RecordedAttempts = 0
	}
	log.Info("restarting service", slog.String("decision", decision.String()), slog.Int("attempt", attempt), slog.Int("max_attempts", e.cfg.MaxAttempts))
	e.notifier.Notify(ctx, models.AlertEvent{
		Severity: models.SeverityInfo,
		Text:     fmt.Sprintf("%s is down, restarting (attempt %d/%d).", service, attempt, e.cfg.MaxAttempts),
	})

	if err := e.restarter.Restart(ctx, service); err != nil {
		return e.restartFailed(ctx, log, out, err)
	}

	e.sleep(e.cfg.RestartWait)

	obs := status.ObserveOne(ctx, e.evaluator, service)
	if obs.Healthy() {
		if err := e.store.Delete(ctx, service); err != nil {
			log.Warn("could not clear failure record after recovery", slog.Any("error", err))
		} else {
			out.RecordedAttempts = 0
		}
		text := fmt.Sprintf("%s is running again after restart.", service)
		if attempt > 1 {
			text = fmt.Sprintf("%s is running again after restart attempt %d.", service, attempt)
		}
		log.Info("service recovered", slog.Int("attempt", attempt))
		e.notifier.Notify(ctx, models.AlertEvent{Severity: models.SeveritySuccess, Text: text})
		out.Result = ResultRecovered
		return out
	}

	log.Warn("service still down after restart",
		slog.Int("attempt", attempt),
		slog.String("state", obs.State.String()),
		slog.Duration("waited", e.cfg.RestartWait))
	e.notifier.Notify(ctx, models.AlertEvent{
		Severity: models.SeverityWarning,
		Text: fmt.Sprintf("%s is still %s after restart attempt %d/%d.",
			service, obs.State, attempt, e.cfg.MaxAttempts),
	})
	out.Result = ResultStillDown
	return out
}

func (e *EscalationEngine) restartFailed(ctx context.Context, log *slog.Logger, out Outcome, err error) Outcome {
	kind := status.KindCommandFailed
	var restartErr *status.RestartError
	if errors.As(err, &restartErr) {
		kind = restartErr.Kind
	}
	out.Err = err

	var text string
	if kind == status.KindPermissionDenied {
		out.Result = ResultPermissionDenied
		text = fmt.Sprintf("Cannot restart %s: permission denied (attempt %d/%d). The agent needs rights to manage this service.",
			out.Service, out.Attempt, e.cfg.MaxAttempts)
	} else {
		out.Result = ResultCommandFailed
		text = fmt.Sprintf("Restart command for %s failed (attempt %d/%d): %v",
			out.Service, out.Attempt, e.cfg.MaxAttempts, err)
	}
	log.Error("restart command failed", slog.String("kind", kind.String()), slog.Any("error", err))
	e.notifier.Notify(ctx, models.AlertEvent{Severity: models.SeverityCritical, Text: text})
	return out
}
