package server

import (
	"net/http"
	"testing"

	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

func TestOperators(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	anna := f.operator(t, "anna@example.com")
	if anna.Role != store.RoleOperator || !anna.Active {
		t.Errorf("default operator = %+v", anna)
	}
	var lead store.Operator
	decode(t, f.do(t, http.MethodPost, "/api/operators", map[string]string{"email": "boris@example.com", "role": "lead"}),
		http.StatusCreated, &lead)
	if lead.Role != store.RoleLead {
		t.Errorf("role = %s, want lead", lead.Role)
	}

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"duplicate email", map[string]string{"email": "anna@example.com"}, http.StatusConflict},
		{"bad email", map[string]string{"email": "anna"}, http.StatusBadRequest},
		{"bad role", map[string]string{"email": "c@example.com", "role": "root"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		if w := f.do(t, http.MethodPost, "/api/operators", tc.body); w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, w.Code, tc.want)
		}
	}

	var ops []store.Operator
	decode(t, f.do(t, http.MethodGet, "/api/operators", nil), http.StatusOK, &ops)
	if len(ops) != 2 {
		t.Errorf("operators = %+v", ops)
	}
}

func TestSettings_GetMasksSecrets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var pub settings.Public
	decode(t, f.do(t, http.MethodGet, "/api/settings", nil), http.StatusOK, &pub)
	if pub.LLMProvider != "mock" || pub.ConfidenceThreshold != 0.65 {
		t.Errorf("settings = %+v", pub)
	}
	if pub.OpenAIKey != "****abcd" {
		t.Errorf("openai_key = %q, want masked", pub.OpenAIKey)
	}
}

func TestSettings_Update(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var pub settings.Public
	decode(t, f.do(t, http.MethodPut, "/api/settings", map[string]any{"confidence_threshold": 0.8, "max_tokens": 256}),
		http.StatusOK, &pub)
	if pub.ConfidenceThreshold != 0.8 || pub.MaxTokens != 256 {
		t.Errorf("updated = %+v", pub)
	}
	if got := f.settings.Threshold(); got != 0.8 {
		t.Errorf("live threshold = %v", got)
	}

	tests := []struct {
		name string
		body map[string]any
	}{
		{"temperature out of range", map[string]any{"temperature": 5}},
		{"unregistered provider", map[string]any{"llm_provider": "nope"}},
		{"unknown key", map[string]any{"colour": "blue"}},
	}
	for _, tc := range tests {
		if w := f.do(t, http.MethodPut, "/api/settings", tc.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400; body: %s", tc.name, w.Code, w.Body.String())
		}
	}
	if got := f.settings.Snapshot().MaxTokens; got != 256 {
		t.Errorf("rejected update changed settings: max_tokens = %d", got)
	}
}

func TestEvents_RecordedFromDialogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.inbound(t, "tg:5", "Do you ship abroad?")

	var events []store.Event
	decode(t, f.do(t, http.MethodGet, "/api/events?limit=10", nil), http.StatusOK, &events)
	// user message, bot message and the AUTO -> WAITING_USER status change.
	if len(events) != 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Name != "dialog_status" {
		t.Errorf("newest event = %s, want dialog_status", events[0].Name)
	}
}
