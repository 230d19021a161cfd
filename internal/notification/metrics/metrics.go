package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the notification hub.
type Metrics struct {
	ActiveConnections prometheus.Gauge

	// Deliveries by outcome: sent, duplicate, failed
	Deliveries *prometheus.CounterVec

	// Deregistrations by terminal state
	Disconnects *prometheus.CounterVec

	BroadcastLatency prometheus.Histogram
}

// New registers the notification metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_notification_connections",
			Help: "Currently registered push connections",
		}),

		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_notification_deliveries_total",
			Help: "Notification pushes by outcome",
		}, []string{"outcome"}),

		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_notification_disconnects_total",
			Help: "Connection deregistrations by terminal state",
		}, []string{"state"}),

		BroadcastLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_notification_broadcast_duration_seconds",
			Help:    "Duration of a fan-out to all registered connections",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// SetActiveConnections publishes the number of registered connections.
func (m *Metrics) SetActiveConnections(n int) {
	if m != nil {
		m.ActiveConnections.Set(float64(n))
	}
}

// IncrementSent records a notification frame written to a connection.
func (m *Metrics) IncrementSent() {
	if m != nil {
		m.Deliveries.WithLabelValues("sent").Inc()
	}
}

// IncrementDuplicate records a notification skipped because the connection already had it.
func (m *Metrics) IncrementDuplicate() {
	if m != nil {
		m.Deliveries.WithLabelValues("duplicate").Inc()
	}
}

// IncrementFailed records a write that failed and closed its connection.
func (m *Metrics) IncrementFailed() {
	if m != nil {
		m.Deliveries.WithLabelValues("failed").Inc()
	}
}

// IncrementDisconnect records a connection leaving with the given terminal state.
func (m *Metrics) IncrementDisconnect(state string) {
	if m != nil {
		m.Disconnects.WithLabelValues(state).Inc()
	}
}

// ObserveBroadcastLatency records the duration of one fan-out to all connections.
func (m *Metrics) ObserveBroadcastLatency(d time.Duration) {
	if m != nil {
		m.BroadcastLatency.Observe(d.Seconds())
	}
}
