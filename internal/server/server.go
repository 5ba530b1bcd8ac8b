// Package server exposes the dialog, knowledge base and settings APIs over
// HTTP, and streams notification events to operator consoles over a
// websocket. It is started by the `aiotvet serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/aiotvet-go/internal/dialog"
	"github.com/54b3r/aiotvet-go/internal/ingestion"
	"github.com/54b3r/aiotvet-go/internal/intake"
	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

// New constructs a Server from the application services and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Intake == nil || deps.Dialogs == nil || deps.Directory == nil || deps.Settings == nil {
		return nil, errors.New("server: intake, dialogs, directory and settings are required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.Registry),
	}
	s.streams, s.stop = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.APIKey == "" {
		s.log.Warn("server: AIOTVET_API_KEY is not set, authentication is disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/dialogs", s.handleInbound)
	mux.HandleFunc("GET /api/dialogs", s.handleListDialogs)
	mux.HandleFunc("GET /api/dialogs/{id}", s.handleDialog)
	mux.HandleFunc("GET /api/dialogs/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/dialogs/{id}/reply", s.handleReply)
	mux.HandleFunc("POST /api/dialogs/{id}/assign", s.handleAssign)
	mux.HandleFunc("POST /api/dialogs/{id}/takeover", s.handleTakeover)
	mux.HandleFunc("POST /api/dialogs/{id}/handoff", s.handleHandoff)

	mux.HandleFunc("GET /api/operators", s.handleListOperators)
	mux.HandleFunc("POST /api/operators", s.handleCreateOperator)

	mux.HandleFunc("POST /api/kb/documents", s.handleCreateDocument)
	mux.HandleFunc("GET /api/kb/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/kb/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("GET /api/kb/search", s.handleSearch)
	mux.HandleFunc("POST /api/kb/reindex", s.handleReindexAll)
	mux.HandleFunc("POST /api/kb/reindex/{id}", s.handleReindex)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /ws/notifications", s.handleNotifications)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	// Outermost first: cors → request logger → metrics → auth → mux.
	var h http.Handler = mux
	h = authMiddleware(cfg.APIKey, h)
	h = s.metrics.middleware(h)
	h = requestLogger(s.log, h)
	h = cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(h)
	s.handler = h

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.httpServer.RegisterOnShutdown(s.stop)
	return s, nil
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stop()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("server: encode response", slog.Any("error", err))
	}
}

// writeJSONError writes {"error": msg}.
func writeJSONError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// writeError maps err onto a status code. Internal errors are logged and
// hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("server: request failed", slog.Any("error", err))
		msg = "internal error"
	}
	writeJSONError(w, r, msg, status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dialog.ErrInvalidState), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, settings.ErrInvalidSetting),
		errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, intake.ErrEmptyMessage),
		errors.Is(err, ingestion.ErrEmptyDocument):
		return http.StatusBadRequest
	case provider.IsFailure(err), errors.Is(err, ingestion.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, errBadRequest)
	}
	return nil
}

// pathID parses the {id} path value.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", r.PathValue("id"), errBadRequest)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter, clamped to [1, max].
func queryInt(r *http.Request, key string, def, max int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, errBadRequest)
	}
	return min(n, max), nil
}
