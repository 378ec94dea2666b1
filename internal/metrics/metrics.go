package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/multierr"
)

const namespace = "hostwatch"

// Notification outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Invocations by check and result.",
		},
		[]string{"check", "result"},
	)

	runDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Wall-clock duration of an invocation, including restart grace periods.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"check"},
	)

	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_up",
			Help:      "1 when the service was observed running, 0 otherwise.",
		},
		[]string{"service"},
	)

	restartAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restart_attempts_total",
			Help:      "Escalation outcomes per service.",
		},
		[]string{"service", "result"},
	)

	failureAttempts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failure_record_attempts",
			Help:      "Attempt count held in the service's failure record; 0 when no record exists.",
		},
		[]string{"service"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by severity and outcome.",
		},
		[]string{"severity", "outcome"},
	)

	diskFreeRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_free_ratio",
			Help:      "Free space ratio (0-1) available to unprivileged users.",
		},
		[]string{"path"},
	)

	lastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the check last completed.",
		},
		[]string{"check"},
	)
)

// Collectors returns every hostwatch collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		serviceUp,
		restartAttemptsTotal,
		failureAttempts,
		notificationsTotal,
		diskFreeRatio,
		lastRunTimestamp,
	}
}

// Register attaches hostwatch collectors plus any extra ones (e.g. gRPC client
// metrics) to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer, extra ...prometheus.Collector) error {
	for _, collector := range append(Collectors(), extra...) {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records one finished check.
func ObserveRun(check, result string, duration time.Duration) {
	runsTotal.WithLabelValues(check, result).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.WithLabelValues(check).Observe(duration.Seconds())
	lastRunTimestamp.WithLabelValues(check).SetToCurrentTime()
}

// SetServiceUp records the observed state of a service.
func SetServiceUp(service string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	serviceUp.WithLabelValues(service).Set(v)
}

// ObserveEscalation counts an escalation result and the attempt count left on record.
func ObserveEscalation(service, result string, recordedAttempts int) {
	restartAttemptsTotal.WithLabelValues(service, result).Inc()
	failureAttempts.WithLabelValues(service).Set(float64(recordedAttempts))
}

// ObserveNotification counts a delivery attempt.
func ObserveNotification(severity, outcome string) {
	notificationsTotal.WithLabelValues(severity, outcome).Inc()
}

// SetDiskFree records the free ratio for a mount path.
func SetDiskFree(path string, ratio float64) {
	diskFreeRatio.WithLabelValues(path).Set(ratio)
}

// Sink says where Flush exports to. Empty fields are skipped.
type Sink struct {
	// Textfile is a node_exporter textfile collector path (*.prom).
	Textfile       string
	PushgatewayURL string
	Job            string
	Instance       string
}

// Flush exports the gathered registry once the run is over.
func Flush(gatherer prometheus.Gatherer, sink Sink) error {
	var err error
	if sink.Textfile != "" {
		if writeErr := prometheus.WriteToTextfile(sink.Textfile, gatherer); writeErr != nil {
			err = multierr.Append(err, fmt.Errorf("write textfile %s: %w", sink.Textfile, writeErr))
		}
	}
	if sink.PushgatewayURL != "" {
		job := sink.Job
		if job == "" {
			job = namespace
		}
		pusher := push.New(sink.PushgatewayURL, job).Gatherer(gatherer)
		if sink.Instance != "" {
			pusher = pusher.Grouping("instance", sink.Instance)
		}
		if pushErr := pusher.Push(); pushErr != nil {
			err = multierr.Append(err, fmt.Errorf("push to %s: %w", sink.PushgatewayURL, pushErr))
		}
	}
	return err
}
