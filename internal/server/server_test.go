package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/aiotvet-go/internal/dialog"
	"github.com/54b3r/aiotvet-go/internal/embedder"
	"github.com/54b3r/aiotvet-go/internal/ingestion"
	"github.com/54b3r/aiotvet-go/internal/intake"
	"github.com/54b3r/aiotvet-go/internal/llmrouter"
	"github.com/54b3r/aiotvet-go/internal/notify"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// okHandler is a trivial downstream handler used in middleware tests.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// genFunc adapts a function to intake.Generator.
type genFunc func(ctx context.Context, history []store.Message, prompt string) (*llmrouter.Reply, error)

func (f genFunc) GenerateReply(ctx context.Context, history []store.Message, prompt string) (*llmrouter.Reply, error) {
	return f(ctx, history, prompt)
}

// hashEmbedder adapts the deterministic hash embedder to rag.Embedder.
type hashEmbedder struct{ h *embedder.HashEmbedder }

func (e hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.h.Embed(ctx, texts, "")
}

const testOrigin = "https://console.example.com"

type fixture struct {
	st       *store.Store
	dialogs  *dialog.Service
	settings *settings.Service
	bus      *notify.Bus
	reg      *prometheus.Registry
	srv      *Server
	apiKey   string

	// reply is returned by the generator; replyErr wins when set.
	reply    *llmrouter.Reply
	replyErr error
}

// newFixture wires a Server over real services backed by in-memory SQLite.
// mutate may adjust the server config before construction.
func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	f := &fixture{
		st:     st,
		reg:    reg,
		apiKey: "secret",
		reply:  &llmrouter.Reply{Text: "Refunds are issued within 14 days of purchase.", Confidence: 0.9, ProviderName: "mock"},
	}

	f.bus = notify.NewBus(notify.WithLogger(quietLogger()))
	f.bus.Subscribe(notify.AllEvents, notify.NewRecorder(st, f.bus).Record)

	providers := provider.NewRegistry(provider.NewMock(16))
	f.settings, err = settings.New(ctx, st, settings.Snapshot{
		LLMProvider:         "mock",
		Temperature:         0.3,
		MaxTokens:           512,
		ConfidenceThreshold: 0.65,
		OpenAIKey:           "sk-test-0123456789abcd",
		Timeout:             30 * time.Second,
	}, providers.Has)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	f.dialogs, err = dialog.New(dialog.Config{Store: st, Publisher: f.bus, Threshold: f.settings})
	if err != nil {
		t.Fatalf("dialog: %v", err)
	}
	in, err := intake.New(intake.Config{
		Dialogs: f.dialogs,
		Generator: genFunc(func(context.Context, []store.Message, string) (*llmrouter.Reply, error) {
			if f.replyErr != nil {
				return nil, f.replyErr
			}
			return f.reply, nil
		}),
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}

	emb := hashEmbedder{embedder.NewHashEmbedder(32)}
	index := rag.NewMemoryIndex()
	pipeline, err := ingestion.NewPipeline(st, index, emb, &ingestion.Config{ChunkSize: 80})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	retriever, err := rag.NewRetriever(emb, index, st)
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}

	cfg := &Config{
		Logger:         quietLogger(),
		APIKey:         f.apiKey,
		AllowedOrigins: []string{testOrigin},
		Registry:       reg,
		NotifyMetrics:  notify.NewMetrics(reg),
	}
	for _, m := range mutate {
		m(cfg)
	}
	f.srv, err = New(Deps{
		Intake:    in,
		Dialogs:   f.dialogs,
		Directory: st,
		Knowledge: pipeline,
		Search:    retriever,
		Settings:  f.settings,
		Bus:       f.bus,
	}, cfg)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return f
}

// do sends an authenticated request through the full middleware chain.
func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

// decode unmarshals the recorder body into v, failing on a bad status.
func decode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, v any) {
	t.Helper()
	if w.Code != wantStatus {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, wantStatus, w.Body.String())
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func (f *fixture) operator(t *testing.T, email string) store.Operator {
	t.Helper()
	var op store.Operator
	decode(t, f.do(t, http.MethodPost, "/api/operators", map[string]string{"email": email}), http.StatusCreated, &op)
	return op
}

func (f *fixture) inbound(t *testing.T, user, text string) intake.Result {
	t.Helper()
	var res intake.Result
	decode(t, f.do(t, http.MethodPost, "/api/dialogs", map[string]string{
		"external_user_id": user,
		"message":          text,
	}), http.StatusOK, &res)
	return res
}

func TestNew_RequiresServices(t *testing.T) {
	t.Parallel()
	if _, err := New(Deps{}, nil); err == nil {
		t.Fatal("expected error for missing services")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{fmt.Errorf("reply: %w", dialog.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("x: %w", errBadRequest), http.StatusBadRequest},
		{fmt.Errorf("settings: %w", settings.ErrInvalidSetting), http.StatusBadRequest},
		{provider.ErrUnknownProvider, http.StatusBadRequest},
		{intake.ErrEmptyMessage, http.StatusBadRequest},
		{ingestion.ErrEmptyDocument, http.StatusBadRequest},
		{fmt.Errorf("gen: %w", provider.ErrProviderFailure), http.StatusBadGateway},
		{fmt.Errorf("fetch: %w", ingestion.ErrFetch), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	writeError(w, req, errors.New("password=hunter2 leaked"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal error" {
		t.Errorf("error = %q, want generic message", body["error"])
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/api/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodPatch, "/api/settings", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/dialogs", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, testOrigin)
	}
}
