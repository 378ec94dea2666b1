package models

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeveritySuccess  Severity = "success"
)

// AlertEvent is a single operator notification. It is delivered once and never queued.
type AlertEvent struct {
	Severity Severity
	Text     string
}
