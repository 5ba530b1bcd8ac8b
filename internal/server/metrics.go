package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by route pattern rather than raw
// path, so ids in URLs do not explode cardinality.
const labelHandler = "handler"

// unmatched is the handler label for requests no route accepted.
const unmatched = "unmatched"

// serverMetrics holds the Prometheus metrics owned by the HTTP server.
type serverMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers the server metrics against reg. Tests pass a
// fresh registry each.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)
	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiotvet",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method, route pattern and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aiotvet",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests, by method and route pattern.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"method", labelHandler}),
	}
}

// middleware records request count and latency. The mux fills r.Pattern
// on the request it is handed, which is the same pointer seen here.
func (m *serverMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = unmatched
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
