package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func Test_Metrics_EndpointServesRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/health", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	for _, name := range []string{"aiotvet_http_requests_total", "aiotvet_http_duration_seconds"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func Test_Metrics_LabelsByRoutePattern(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodGet, "/api/dialogs/999", nil)
	f.do(t, http.MethodGet, "/api/dialogs/998", nil)
	f.do(t, http.MethodGet, "/api/nowhere", nil)

	m := f.srv.metrics
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "GET /api/dialogs/{id}", "404")); got != 2 {
		t.Errorf("pattern counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", unmatched, "404")); got != 1 {
		t.Errorf("unmatched counter = %v, want 1", got)
	}
}
