package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to the structured log.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a new console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("component", "alert")}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs message at the slog level matching severity.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	attrs := append([]any{"severity", severity.String()}, fields...)
	c.logger.Log(ctx, severityLevel(severity), message, attrs...)
	return nil
}

// SendSessionSummary logs the summary as one record.
func (c *ConsoleAlerter) SendSessionSummary(ctx context.Context, s SessionSummary) error {
	c.logger.InfoContext(ctx, "session summary",
		"symbol", s.Symbol,
		"duration", s.Duration(),
		"cycles", s.TotalCycles(),
		"filled_cycles", s.Outcomes["filled"],
		"fill_rate_pct", s.FillRate().StringFixed(1),
		"bought", s.BoughtVolume,
		"sold", s.SoldVolume,
		"reprices", s.Reprices,
		"stop_reason", s.StopReason,
	)
	return nil
}

func severityLevel(s Severity) slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh, SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
