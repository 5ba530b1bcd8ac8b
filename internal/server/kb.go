package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/54b3r/aiotvet-go/internal/ingestion"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/store"
)

const (
	defaultSearchK = 5
	maxSearchK     = 20
)

// handleCreateDocument handles POST /api/kb/documents. The body carries
// either inline text or a URL to fetch.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		writeJSONError(w, r, "knowledge base is not configured", http.StatusServiceUnavailable)
		return
	}
	var req documentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	hasText := strings.TrimSpace(req.Text) != ""
	hasURL := strings.TrimSpace(req.URL) != ""
	if hasText == hasURL {
		writeError(w, r, fmt.Errorf("exactly one of text or url is required: %w", errBadRequest))
		return
	}

	var (
		doc    store.Document
		chunks []store.Chunk
		err    error
	)
	if hasURL {
		doc, chunks, err = s.deps.Knowledge.IngestURL(r.Context(), strings.TrimSpace(req.URL), req.Tags, req.OperatorID)
	} else {
		doc, chunks, err = s.deps.Knowledge.IngestText(r.Context(), ingestion.Input{
			Title:      req.Title,
			Source:     req.Source,
			Tags:       req.Tags,
			Text:       req.Text,
			OperatorID: req.OperatorID,
		})
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, documentResponse{Document: doc, Chunks: len(chunks)})
}

// handleListDocuments handles GET /api/kb/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Directory.ListDocuments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, r, http.StatusOK, docs)
}

// handleDeleteDocument handles DELETE /api/kb/documents/{id}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		writeJSONError(w, r, "knowledge base is not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Knowledge.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch handles GET /api/kb/search?q=&k=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		writeJSONError(w, r, "knowledge base is not configured", http.StatusServiceUnavailable)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, fmt.Errorf("q is required: %w", errBadRequest))
		return
	}
	k, err := queryInt(r, "k", defaultSearchK, maxSearchK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	passages, err := s.deps.Search.Retrieve(r.Context(), q, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if passages == nil {
		passages = []rag.Passage{}
	}
	writeJSON(w, r, http.StatusOK, passages)
}

// handleReindex handles POST /api/kb/reindex/{id}.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		writeJSONError(w, r, "knowledge base is not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.deps.Knowledge.Reindex(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int64{"document_id": id, "chunks": int64(n)})
}

// handleReindexAll handles POST /api/kb/reindex.
func (s *Server) handleReindexAll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Knowledge == nil {
		writeJSONError(w, r, "knowledge base is not configured", http.StatusServiceUnavailable)
		return
	}
	n, err := s.deps.Knowledge.ReindexAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"documents": n})
}
