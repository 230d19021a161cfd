package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes recorded by the gateway.
const (
	OutcomeSuccess      = "success"
	OutcomeError        = "error"
	OutcomeEmpty        = "empty"
	OutcomeShortCircuit = "short_circuit"
)

// Metrics provides observability for metric backend queries.
type Metrics struct {
	Queries       *prometheus.CounterVec
	QueryLatency  prometheus.Histogram
	BreakerOpened prometheus.Counter
}

// New registers the gateway metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_metrics_queries_total",
			Help: "Metric backend queries by outcome",
		}, []string{"outcome"}),

		QueryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_metrics_query_duration_seconds",
			Help:    "Duration of metric backend queries that reached the backend",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		BreakerOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "beacon_metrics_breaker_opened_total",
			Help: "Times the metric backend circuit breaker opened",
		}),
	}
}

// IncrementQuery records a gateway query with its outcome.
func (m *Metrics) IncrementQuery(outcome string) {
	if m != nil {
		m.Queries.WithLabelValues(outcome).Inc()
	}
}

// ObserveQueryLatency records the duration of a query that reached the backend.
func (m *Metrics) ObserveQueryLatency(d time.Duration) {
	if m != nil {
		m.QueryLatency.Observe(d.Seconds())
	}
}

// IncrementBreakerOpened records the backend circuit breaker opening.
func (m *Metrics) IncrementBreakerOpened() {
	if m != nil {
		m.BreakerOpened.Inc()
	}
}
