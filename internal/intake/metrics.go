package intake

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records intake outcomes. A nil *Metrics records nothing.
type Metrics struct {
	outcomes   *prometheus.CounterVec
	confidence prometheus.Histogram
	generation *prometheus.HistogramVec
}

// NewMetrics registers the intake metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiotvet",
			Subsystem: "intake",
			Name:      "messages_total",
			Help:      "Inbound messages by outcome.",
		}, []string{"outcome"}),
		confidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aiotvet",
			Subsystem: "intake",
			Name:      "reply_confidence",
			Help:      "Confidence score of generated replies.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		generation: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aiotvet",
			Subsystem: "intake",
			Name:      "generation_duration_seconds",
			Help:      "Time spent generating a reply, by result.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"result"}),
	}
}

func (m *Metrics) outcome(o Outcome) {
	if m != nil {
		m.outcomes.WithLabelValues(string(o)).Inc()
	}
}

func (m *Metrics) observeConfidence(score float64) {
	if m != nil {
		m.confidence.Observe(score)
	}
}

func (m *Metrics) observeGeneration(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.generation.WithLabelValues(result).Observe(d.Seconds())
}
