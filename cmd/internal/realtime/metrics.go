package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the realtime core's Prometheus instruments.
//
// A nil *Metrics is valid and turns every recording method into a no-op,
// so unit tests can construct components without a registry.
type Metrics struct {
	activeConnections prometheus.Gauge
	admissionRejects  *prometheus.CounterVec
	messagesRouted    prometheus.Counter
	fanoutDeliveries  prometheus.Counter
	fanoutDrops       prometheus.Counter
}

// NewMetrics registers the realtime instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tether",
			Subsystem: "realtime",
			Name:      "active_connections",
			Help:      "Live websocket connections registered in the session registry.",
		}),
		admissionRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "realtime",
			Name:      "admission_rejects_total",
			Help:      "Connection attempts refused, by reason.",
		}, []string{"reason"}),
		messagesRouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "realtime",
			Name:      "messages_routed_total",
			Help:      "Messages persisted and fanned out.",
		}),
		fanoutDeliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "realtime",
			Name:      "fanout_deliveries_total",
			Help:      "Envelopes enqueued to subscriber connections.",
		}),
		fanoutDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "realtime",
			Name:      "fanout_drops_total",
			Help:      "Subscriber connections dropped for send-queue overflow.",
		}),
	}
}

// ConnOpened records a registered connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnClosed records a torn-down connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// AdmissionRejected records a refused connection attempt.
func (m *Metrics) AdmissionRejected(d Decision) {
	if m == nil {
		return
	}
	m.admissionRejects.WithLabelValues(d.String()).Inc()
}

// MessageRouted records a persisted + fanned-out message.
func (m *Metrics) MessageRouted() {
	if m == nil {
		return
	}
	m.messagesRouted.Inc()
}

// Fanout records a broadcast's delivery and drop counts.
func (m *Metrics) Fanout(delivered, dropped int) {
	if m == nil {
		return
	}
	m.fanoutDeliveries.Add(float64(delivered))
	m.fanoutDrops.Add(float64(dropped))
}
