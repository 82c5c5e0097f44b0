package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct {
	start time.Time

	mu        sync.Mutex
	gateState map[string]string
}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		start:     time.Now(),
		gateState: make(map[string]string),
	}
}

// RecordCycle records a finished execution cycle.
func (r *Recorder) RecordCycle(symbol, side, outcome string, duration time.Duration, reprices int, filled int64) {
	CyclesTotal.WithLabelValues(symbol, side, outcome).Inc()
	CycleDuration.WithLabelValues(side).Observe(duration.Seconds())
	if reprices > 0 {
		RepricesTotal.WithLabelValues(symbol, side).Add(float64(reprices))
	}
	if filled > 0 {
		FilledVolume.WithLabelValues(symbol, side).Add(float64(filled))
	}
}

// RecordOrder records an order with its last observed status.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, strings.ToLower(status)).Inc()
}

// RecordOrderLatency records order submission latency.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordQuoteAbsent records a poll without a usable quote.
func (r *Recorder) RecordQuoteAbsent(symbol string) {
	QuoteAbsencesTotal.WithLabelValues(symbol).Inc()
}

// RecordEntryRejected records a skipped entry.
func (r *Recorder) RecordEntryRejected(symbol, reason string) {
	EntriesRejectedTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordGate records the gate state and position figures for symbol.
func (r *Recorder) RecordGate(symbol, state string, ratio decimal.Decimal, volume int64) {
	r.mu.Lock()
	prev, ok := r.gateState[symbol]
	r.gateState[symbol] = state
	r.mu.Unlock()

	if ok && prev != state {
		GateState.WithLabelValues(symbol, prev).Set(0)
	}
	GateState.WithLabelValues(symbol, state).Set(1)
	ReturnRatio.WithLabelValues(symbol).Set(ratio.InexactFloat64())
	PositionVolume.WithLabelValues(symbol).Set(float64(volume))
}

// RecordRunning records whether the controller loop is active.
func (r *Recorder) RecordRunning(running bool) {
	if running {
		ControllerRunning.Set(1)
	} else {
		ControllerRunning.Set(0)
	}
}

// RecordHeartbeat records a heartbeat and refreshes uptime.
func (r *Recorder) RecordHeartbeat() {
	now := time.Now()
	HeartbeatTimestamp.Set(float64(now.Unix()))
	UptimeSeconds.Set(now.Sub(r.start).Seconds())
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}
