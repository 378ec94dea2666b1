// Package notify delivers operator alerts to a chat webhook.
//
// Delivery is best effort: a failed send is logged and counted, never retried or
// queued for a later invocation.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/miradorstack/hostwatch/internal/metrics"
	"github.com/miradorstack/hostwatch/internal/models"
)

// ErrDelivery wraps every failed send.
var ErrDelivery = errors.New("notification delivery failed")

// Sink delivers one text message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, text string) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, text string) error {
	return f(ctx, text)
}

var markers = map[models.Severity]string{
	models.SeverityInfo:     "ℹ️",
	models.SeverityWarning:  "⚠️",
	models.SeverityCritical: "🚨",
	models.SeveritySuccess:  "✅",
}

// Format renders an alert as chat text: marker, optional host label, message.
func Format(host string, event models.AlertEvent) string {
	var b strings.Builder
	if marker, ok := markers[event.Severity]; ok {
		b.WriteString(marker)
		b.WriteByte(' ')
	}
	if host != "" {
		b.WriteString("[")
		b.WriteString(host)
		b.WriteString("] ")
	}
	b.WriteString(event.Text)
	return b.String()
}

// Notifier formats alerts and hands them to a Sink, swallowing delivery errors.
type Notifier struct {
	logger *slog.Logger
	sink   Sink
	host   string
}

// NewNotifier builds a Notifier. A nil sink logs messages instead of sending them.
func NewNotifier(logger *slog.Logger, sink Sink, host string) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Notifier{logger: logger, sink: sink, host: host}
}

// Notify sends event and reports whether it was delivered.
func (n *Notifier) Notify(ctx context.Context, event models.AlertEvent) bool {
	text := Format(n.host, event)
	if err := n.sink.Send(ctx, text); err != nil {
		metrics.ObserveNotification(string(event.Severity), metrics.OutcomeFailed)
		n.logger.Warn("notification not delivered",
			slog.String("severity", string(event.Severity)),
			slog.String("text", event.Text),
			slog.Any("error", err))
		return false
	}
	metrics.ObserveNotification(string(event.Severity), metrics.OutcomeDelivered)
	n.logger.Info("notification sent", slog.String("severity", string(event.Severity)), slog.String("text", event.Text))
	return true
}

// LogSink writes messages to the log. Used when no webhook is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Send implements Sink.
func (s LogSink) Send(_ context.Context, text string) error {
	s.Logger.Info("notification (no webhook configured)", slog.String("message", text))
	return nil
}
