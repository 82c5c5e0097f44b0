package alerting

import "context"

// EventFilter drops event alerts whose event is not enabled. Alerts sent
// without an event field always pass.
type EventFilter struct {
	next    Alerter
	enabled func(event string) bool
}

// NewEventFilter wraps next so only events accepted by enabled are sent.
func NewEventFilter(next Alerter, enabled func(event string) bool) *EventFilter {
	return &EventFilter{next: next, enabled: enabled}
}

// Name returns the wrapped alerter's name.
func (f *EventFilter) Name() string {
	return f.next.Name()
}

// Alert forwards the alert when its event is enabled.
func (f *EventFilter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if event, ok := eventOf(fields); ok && !f.enabled(event) {
		return nil
	}
	return f.next.Alert(ctx, severity, message, fields...)
}

// SendSessionSummary forwards to the wrapped alerter when it supports
// summaries.
func (f *EventFilter) SendSessionSummary(ctx context.Context, s SessionSummary) error {
	if ss, ok := f.next.(SummarySender); ok {
		return ss.SendSessionSummary(ctx, s)
	}
	return nil
}

func eventOf(fields []any) (string, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == "event" {
			v, ok := fields[i+1].(string)
			return v, ok
		}
	}
	return "", false
}

var (
	_ Alerter       = (*EventFilter)(nil)
	_ SummarySender = (*EventFilter)(nil)
)
