package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/54b3r/aiotvet-go/internal/intake"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxDialogLimit      = 500
)

// handleInbound handles POST /api/dialogs: one message from an end user.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var in intake.Inbound
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(in.ExternalUserID) == "" {
		writeError(w, r, fmt.Errorf("external_user_id is required: %w", errBadRequest))
		return
	}

	res, err := s.deps.Intake.HandleInbound(r.Context(), in)
	if errors.Is(err, provider.ErrUnknownProvider) {
		// The message is stored and the dialog escalated.
		writeJSONError(w, r, err.Error(), http.StatusBadGateway)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleListDialogs handles GET /api/dialogs?status=&limit=.
func (s *Server) handleListDialogs(w http.ResponseWriter, r *http.Request) {
	status := store.Status(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		writeError(w, r, fmt.Errorf("unknown status %q: %w", status, errBadRequest))
		return
	}
	limit, err := queryInt(r, "limit", 100, maxDialogLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dialogs, err := s.deps.Dialogs.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if dialogs == nil {
		dialogs = []store.Dialog{}
	}
	writeJSON(w, r, http.StatusOK, dialogs)
}

// handleDialog handles GET /api/dialogs/{id}: the dialog plus its most
// recent messages, oldest first.
func (s *Server) handleDialog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.deps.Dialogs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := s.deps.Dialogs.History(r.Context(), id, defaultMessageLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, r, http.StatusOK, dialogDetail{Dialog: d, Messages: msgs})
}

// handleMessages handles GET /api/dialogs/{id}/messages?before_id=&limit=,
// paging backwards newest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultMessageLimit, maxMessageLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var before int64
	if v := r.URL.Query().Get("before_id"); v != "" {
		before, err = strconv.ParseInt(v, 10, 64)
		if err != nil || before < 0 {
			writeError(w, r, fmt.Errorf("invalid before_id %q: %w", v, errBadRequest))
			return
		}
	}
	msgs, err := s.deps.Dialogs.Messages(r.Context(), id, before, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, r, http.StatusOK, msgs)
}

// handleReply handles POST /api/dialogs/{id}/reply.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OperatorID <= 0 || strings.TrimSpace(req.Text) == "" {
		writeError(w, r, fmt.Errorf("operator_id and text are required: %w", errBadRequest))
		return
	}
	msg, d, err := s.deps.Dialogs.HandleOperatorReply(r.Context(), id, req.OperatorID, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"message": msg, "dialog": d})
}

// handleAssign handles POST /api/dialogs/{id}/assign.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	s.operatorAction(w, r, s.deps.Dialogs.AssignOperator)
}

// handleTakeover handles POST /api/dialogs/{id}/takeover.
func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	s.operatorAction(w, r, s.deps.Dialogs.Takeover)
}

// handleHandoff handles POST /api/dialogs/{id}/handoff, returning the
// dialog to the bot. It takes no body.
func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.deps.Dialogs.HandoffToAuto(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// operatorAction runs an assign or takeover for the operator_id in the body.
func (s *Server) operatorAction(w http.ResponseWriter, r *http.Request, act func(context.Context, int64, int64) (store.Dialog, error)) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req operatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OperatorID <= 0 {
		writeError(w, r, fmt.Errorf("operator_id is required: %w", errBadRequest))
		return
	}
	d, err := act(r.Context(), id, req.OperatorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}
