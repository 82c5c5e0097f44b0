// Package alerting provides operator notifications for the controller.
package alerting

import (
	"context"
	"fmt"
	"strings"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return SeverityInfo, nil
	case "WARNING", "WARN":
		return SeverityWarning, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// SummarySender is implemented by alerters that render a session summary
// natively.
type SummarySender interface {
	SendSessionSummary(ctx context.Context, summary SessionSummary) error
}

// FormatFields converts variadic key/value fields to a bulleted list.
// Non-string keys and a trailing orphan are skipped.
func FormatFields(fields ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• %s: %v", key, fields[i+1])
	}
	return b.String()
}

// AlertEvent is a controller event that warrants an alert.
type AlertEvent string

const (
	EventControllerStarted AlertEvent = "controller_started"
	EventControllerStopped AlertEvent = "controller_stopped"
	EventCycleFilled       AlertEvent = "cycle_filled"
	EventCycleTimedOut     AlertEvent = "cycle_timed_out"
	EventCycleAborted      AlertEvent = "cycle_aborted"
	EventSubmissionFailed  AlertEvent = "submission_failed"

	// EventOrderTerminated is sent when the venue kills an order the
	// controller did not cancel. The controller stops afterwards.
	EventOrderTerminated AlertEvent = "order_terminated"

	// EventInFlightCancelled is sent when a leftover order from a timed-out
	// cycle had to be cancelled.
	EventInFlightCancelled AlertEvent = "in_flight_cancelled"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventOrderTerminated:
		return SeverityCritical
	case EventSubmissionFailed:
		return SeverityHigh
	case EventCycleTimedOut, EventCycleAborted, EventInFlightCancelled:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// SendEvent alerts on event with its default severity.
func SendEvent(ctx context.Context, a Alerter, event AlertEvent, message string, fields ...any) error {
	return a.Alert(ctx, EventSeverity(event), message, append([]any{"event", string(event)}, fields...)...)
}
