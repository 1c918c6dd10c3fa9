package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the session registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Update outcomes by operation and error kind ("ok" on success)
	Updates *prometheus.CounterVec

	// Read outcomes by operation and error kind ("ok" on success)
	Reads *prometheus.CounterVec

	// Creation outcomes
	Creates *prometheus.CounterVec

	// Store round-trip latency by call
	StoreLatency *prometheus.HistogramVec
}

// New registers the session metrics with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the session metrics with reg. Tests pass a fresh
// registry so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Updates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idcheck_session_updates_total",
			Help: "Total session state transitions by operation and outcome",
		}, []string{"operation", "outcome"}),

		Reads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idcheck_session_reads_total",
			Help: "Total session reads by operation and outcome",
		}, []string{"operation", "outcome"}),

		Creates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idcheck_session_creates_total",
			Help: "Total session creations by outcome",
		}, []string{"outcome"}),

		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idcheck_session_store_duration_seconds",
			Help:    "Duration of session store calls",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"call"}), // call: "create", "conditional_update", "get", "query"
	}
}

// IncrementUpdate records the outcome of an UpdateSession call.
func (m *Metrics) IncrementUpdate(operation, outcome string) {
	if m != nil {
		m.Updates.WithLabelValues(operation, outcome).Inc()
	}
}

// IncrementRead records the outcome of a GetSession call.
func (m *Metrics) IncrementRead(operation, outcome string) {
	if m != nil {
		m.Reads.WithLabelValues(operation, outcome).Inc()
	}
}

// IncrementCreate records the outcome of a CreateSession call.
func (m *Metrics) IncrementCreate(outcome string) {
	if m != nil {
		m.Creates.WithLabelValues(outcome).Inc()
	}
}

// ObserveStoreLatency records how long a store call took.
func (m *Metrics) ObserveStoreLatency(call string, d time.Duration) {
	if m != nil {
		m.StoreLatency.WithLabelValues(call).Observe(d.Seconds())
	}
}
