// Package metrics provides Prometheus metrics for the filesystem core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	ChangeSignals prometheus.Counter
	WatchEvents   *prometheus.CounterVec
	CachedEntries prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorfs_operations_total",
				Help: "Filesystem operations by kind and result",
			},
			[]string{"op", "result"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorfs_rejections_total",
				Help: "Operations refused by policy before any I/O",
			},
			[]string{"op"},
		),
		ChangeSignals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "razorfs_change_signals_total",
				Help: "Directory content-changed signals fired",
			},
		),
		WatchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "razorfs_watch_events_total",
				Help: "Raw OS events folded into watcher batches",
			},
			[]string{"kind"},
		),
		CachedEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "razorfs_cached_entries",
				Help: "Entries currently held by the registry cache",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.Rejections, m.ChangeSignals, m.WatchEvents, m.CachedEntries)
	}
	return m
}

// Op records the outcome of an operation.
func (m *Metrics) Op(op string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// Rejected records a policy rejection.
func (m *Metrics) Rejected(op string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(op).Inc()
}

// Signal records a fired content-changed signal.
func (m *Metrics) Signal() {
	if m == nil {
		return
	}
	m.ChangeSignals.Inc()
}

// Events records n raw watcher events.
func (m *Metrics) Events(kind string, n int) {
	if m == nil {
		return
	}
	m.WatchEvents.WithLabelValues(kind).Add(float64(n))
}

// Cached sets the cache size gauge.
func (m *Metrics) Cached(n int) {
	if m == nil {
		return
	}
	m.CachedEntries.Set(float64(n))
}
