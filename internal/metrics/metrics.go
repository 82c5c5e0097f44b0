// Package metrics exposes Prometheus collectors for the repricing controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "repricer"

var (
	// CyclesTotal counts finished execution cycles by outcome.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Execution cycles by outcome.",
	}, []string{"symbol", "side", "outcome"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of an execution cycle.",
		Buckets:   []float64{1, 3, 6, 12, 24, 36, 48, 60, 90},
	}, []string{"side"})

	RepricesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reprices_total",
		Help:      "Cancel and resubmit rounds.",
	}, []string{"symbol", "side"})

	// OrdersTotal counts orders by the last status seen for them.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders by side and final observed status.",
	}, []string{"symbol", "side", "status"})

	FilledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "filled_volume_total",
		Help:      "Shares traded by side.",
	}, []string{"symbol", "side"})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_submit_latency_seconds",
		Help:      "Latency of order submission calls.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	QuoteAbsencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quote_absences_total",
		Help:      "Polls that returned no usable quote.",
	}, []string{"symbol"})

	EntriesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_rejected_total",
		Help:      "Entry opportunities skipped by reason.",
	}, []string{"symbol", "reason"})

	// GateState is 1 for the current gate state of a symbol and 0 otherwise.
	GateState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gate_state",
		Help:      "Current position gate state.",
	}, []string{"symbol", "state"})

	ReturnRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_return_ratio",
		Help:      "Unrealized P&L over position cost.",
	}, []string{"symbol"})

	PositionVolume = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "position_volume",
		Help:      "Held long volume.",
	}, []string{"symbol"})

	ControllerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "controller_running",
		Help:      "1 while the controller loop is active.",
	})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last controller iteration.",
	})

	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the recorder was created.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata.",
	}, []string{"version", "commit", "build_date"})
)

// SetBuildInfo publishes build metadata as a constant 1 gauge.
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
