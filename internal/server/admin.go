package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// handleListOperators handles GET /api/operators.
func (s *Server) handleListOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := s.deps.Directory.ListOperators(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ops == nil {
		ops = []store.Operator{}
	}
	writeJSON(w, r, http.StatusOK, ops)
}

// handleCreateOperator handles POST /api/operators. Role defaults to
// operator.
func (s *Server) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req createOperatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !strings.Contains(req.Email, "@") {
		writeError(w, r, fmt.Errorf("a valid email is required: %w", errBadRequest))
		return
	}
	if req.Role == "" {
		req.Role = store.RoleOperator
	}
	if !req.Role.Valid() {
		writeError(w, r, fmt.Errorf("unknown role %q: %w", req.Role, errBadRequest))
		return
	}
	op, err := s.deps.Directory.CreateOperator(r.Context(), req.Email, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, op)
}

// handleGetSettings handles GET /api/settings. Secrets are masked.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Settings.Snapshot().Public())
}

// handlePutSettings handles PUT /api/settings with a partial update.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.deps.Settings.Update(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap.Public())
}

// handleEvents handles GET /api/events?limit=, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.deps.Directory.ListEvents(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, r, http.StatusOK, events)
}
