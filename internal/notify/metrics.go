package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bus and connection metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	deliveredTotal *prometheus.CounterVec
	failedTotal    *prometheus.CounterVec
	droppedTotal   prometheus.Counter
	connected      prometheus.Gauge
}

// NewMetrics registers the notify metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		deliveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiotvet",
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Events handed to a subscriber without error, by event name.",
		}, []string{"event"}),
		failedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiotvet",
			Subsystem: "notify",
			Name:      "failed_total",
			Help:      "Subscriber errors and panics, by event name.",
		}, []string{"event"}),
		droppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aiotvet",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Events dropped because a live connection's buffer was full.",
		}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aiotvet",
			Subsystem: "notify",
			Name:      "connected_clients",
			Help:      "Live websocket subscribers.",
		}),
	}
}

func (m *Metrics) delivered(event string) {
	if m != nil {
		m.deliveredTotal.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) failed(event string) {
	if m != nil {
		m.failedTotal.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.droppedTotal.Inc()
	}
}

// ClientConnected adjusts the connected-clients gauge by delta.
func (m *Metrics) ClientConnected(delta int) {
	if m != nil {
		m.connected.Add(float64(delta))
	}
}
