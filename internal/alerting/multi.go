package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// MultiAlerter fans alerts out to several channels concurrently.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a new multi-channel alerter.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		logger:   logger,
	}
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter adds a new alerter to the multi-alerter.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Len returns the number of channels.
func (m *MultiAlerter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerters)
}

// Alert sends an alert to all configured channels. Channel errors are joined.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return m.each(func(a Alerter) error {
		return a.Alert(ctx, severity, message, fields...)
	})
}

// SendSessionSummary sends the summary to every channel, falling back to a
// plain alert for channels without native summary support.
func (m *MultiAlerter) SendSessionSummary(ctx context.Context, s SessionSummary) error {
	return m.each(func(a Alerter) error {
		if ss, ok := a.(SummarySender); ok {
			return ss.SendSessionSummary(ctx, s)
		}
		return a.Alert(ctx, SeverityInfo, "Session summary",
			"symbol", s.Symbol,
			"cycles", s.TotalCycles(),
			"fill_rate", s.FillRate().StringFixed(1)+"%",
			"stop_reason", s.StopReason,
		)
	})
}

// AlertEvent sends an alert for a predefined event type.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return SendEvent(ctx, m, event, message, fields...)
}

func (m *MultiAlerter) each(send func(Alerter) error) error {
	m.mu.RLock()
	alerters := make([]Alerter, len(m.alerters))
	copy(alerters, m.alerters)
	m.mu.RUnlock()

	if len(alerters) == 0 {
		return nil
	}

	errs := make([]error, len(alerters))
	var wg sync.WaitGroup
	for i, alerter := range alerters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := send(alerter); err != nil {
				m.logger.Error("alerter failed", "alerter", alerter.Name(), "err", err)
				errs[i] = fmt.Errorf("%s: %w", alerter.Name(), err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
