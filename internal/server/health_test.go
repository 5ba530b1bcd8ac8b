package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/version"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body healthResponse
	decode(t, w, http.StatusOK, &body)
	if body.Status != "ok" || body.Version.Version != version.Version {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		pingers   []Pinger
		wantCode  int
		wantReady bool
	}{
		{name: "no pingers", wantCode: http.StatusOK, wantReady: true},
		{
			name:      "all healthy",
			pingers:   []Pinger{&fakePinger{name: "database"}, &fakePinger{name: "qdrant"}},
			wantCode:  http.StatusOK,
			wantReady: true,
		},
		{
			name:     "one failing",
			pingers:  []Pinger{&fakePinger{name: "database"}, &fakePinger{name: "redis", err: errors.New("connection refused")}},
			wantCode: http.StatusServiceUnavailable,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(c *Config) { c.Pingers = tc.pingers })

			req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
			w := httptest.NewRecorder()
			f.srv.Handler().ServeHTTP(w, req)

			var body readyResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if w.Code != tc.wantCode || body.Ready != tc.wantReady {
				t.Errorf("status = %d ready = %v, want %d %v", w.Code, body.Ready, tc.wantCode, tc.wantReady)
			}
			if len(body.Checks) != len(tc.pingers) {
				t.Fatalf("checks = %+v", body.Checks)
			}
			for i, c := range body.Checks {
				failing := tc.pingers[i].(*fakePinger).err != nil
				if c.OK == failing || (c.Error != "") != failing {
					t.Errorf("check %s = %+v", c.Name, c)
				}
			}
		})
	}
}

func TestProviderPinger(t *testing.T) {
	t.Parallel()
	reg := provider.NewRegistry(provider.NewMock(8))

	active := "mock"
	p := NewProviderPinger(reg, func() string { return active })
	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("registered provider: %v", err)
	}
	active = "openai"
	if err := p.Ping(context.Background()); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Errorf("unregistered provider: want ErrUnknownProvider, got %v", err)
	}
	if p.Name() != "llm" {
		t.Errorf("name = %q", p.Name())
	}
}
