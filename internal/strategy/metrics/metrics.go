package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the strategy controller.
type Metrics struct {
	// Evaluations by domain and resulting reason (including NO_METRIC_DATA)
	Evaluations *prometheus.CounterVec

	// Recorded transitions by domain and target reason
	Transitions *prometheus.CounterVec

	// 1 while a domain runs a degraded strategy
	Degraded *prometheus.GaugeVec

	// Transitions overwritten in the bounded event log
	EventsDropped prometheus.Gauge

	EvaluateLatency prometheus.Histogram
}

// New registers the strategy metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_strategy_evaluations_total",
			Help: "Strategy evaluations by domain and reason",
		}, []string{"domain", "reason"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_strategy_transitions_total",
			Help: "Recorded strategy transitions by domain and target reason",
		}, []string{"domain", "reason"}),

		Degraded: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "beacon_strategy_degraded",
			Help: "Whether the domain currently runs a degraded strategy",
		}, []string{"domain"}),

		EventsDropped: f.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_strategy_events_dropped",
			Help: "Transition events overwritten in the in-memory event log",
		}),

		EvaluateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_strategy_evaluate_duration_seconds",
			Help:    "Duration of a single domain evaluation including metric queries",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementEvaluation counts one evaluation of domain ending in reason.
func (m *Metrics) IncrementEvaluation(domain, reason string) {
	if m != nil {
		m.Evaluations.WithLabelValues(domain, reason).Inc()
	}
}

// IncrementTransition counts a recorded change of domain's strategy to reason.
func (m *Metrics) IncrementTransition(domain, reason string) {
	if m != nil {
		m.Transitions.WithLabelValues(domain, reason).Inc()
	}
}

// SetDegraded sets the domain's degraded gauge to 1 or 0.
func (m *Metrics) SetDegraded(domain string, degraded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	m.Degraded.WithLabelValues(domain).Set(v)
}

// SetEventsDropped publishes the event log's overwrite count.
func (m *Metrics) SetEventsDropped(n int64) {
	if m != nil {
		m.EventsDropped.Set(float64(n))
	}
}

// ObserveEvaluateLatency records the duration of one domain evaluation.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
