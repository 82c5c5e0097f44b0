package alerting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SessionSummary describes one controller run, sent when it stops.
type SessionSummary struct {
	Symbol       string
	Start        time.Time
	End          time.Time
	Outcomes     map[string]int
	BoughtVolume int64
	SoldVolume   int64
	Reprices     int
	StopReason   string
}

// NewSessionSummary creates an empty summary starting at start.
func NewSessionSummary(symbol string, start time.Time) SessionSummary {
	return SessionSummary{
		Symbol:   symbol,
		Start:    start,
		Outcomes: make(map[string]int),
	}
}

// Duration returns the run length.
func (s SessionSummary) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// TotalCycles returns the number of cycles across all outcomes.
func (s SessionSummary) TotalCycles() int {
	n := 0
	for _, c := range s.Outcomes {
		n += c
	}
	return n
}

// FillRate returns the percentage of cycles that filled.
func (s SessionSummary) FillRate() decimal.Decimal {
	total := s.TotalCycles()
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Outcomes["filled"])).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100))
}

// OutcomeNames returns the recorded outcomes in sorted order.
func (s SessionSummary) OutcomeNames() []string {
	names := make([]string, 0, len(s.Outcomes))
	for name := range s.Outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
