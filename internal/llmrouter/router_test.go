package llmrouter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/aiotvet-go/internal/confidence"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

type staticSettings settings.Snapshot

func (s staticSettings) Snapshot() settings.Snapshot { return settings.Snapshot(s) }

type fakeRetriever struct {
	passages []rag.Passage
	err      error
	query    string
	k        int
}

func (f *fakeRetriever) Retrieve(_ context.Context, q string, k int) ([]rag.Passage, error) {
	f.query, f.k = q, k
	return f.passages, f.err
}

// recording wraps a provider and captures the last request.
type recording struct {
	provider.Provider
	req *provider.Request
	err error
}

func (r *recording) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	r.req = req
	if r.err != nil {
		return nil, r.err
	}
	return r.Provider.Generate(ctx, req)
}

func snapshot(name string) staticSettings {
	return staticSettings{LLMProvider: name, Model: "m1", Temperature: 0.2, MaxTokens: 99, Timeout: 3 * time.Second}
}

func history() []store.Message {
	return []store.Message{
		{Sender: store.SenderUser, Text: "hi"},
		{Sender: store.SenderBot, Text: "hello, how can I help?"},
		{Sender: store.SenderUser, Text: "how do refunds work?"},
	}
}

func TestGenerateReply_InjectsKnowledgeAndRescores(t *testing.T) {
	t.Parallel()
	rec := &recording{Provider: provider.NewMock(8)}
	ret := &fakeRetriever{passages: []rag.Passage{{ChunkID: 7, DocumentID: 1, Text: "Refunds take 5 days."}}}
	r, err := New(Config{Providers: provider.NewRegistry(rec), Settings: snapshot("mock"), Retriever: ret})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	reply, err := r.GenerateReply(context.Background(), history(), SystemPrompt)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ret.query != "how do refunds work?" || ret.k != TopK {
		t.Errorf("retrieval keyed on %q k=%d", ret.query, ret.k)
	}

	msgs := rec.req.Messages
	if len(msgs) != 4 {
		t.Fatalf("want history plus context message, got %d messages", len(msgs))
	}
	if got := msgs[3].Content; got != "Relevant knowledge chunks:\n[7] Refunds take 5 days." {
		t.Errorf("context message: %q", got)
	}
	if rec.req.Model != "m1" || rec.req.MaxTokens != 99 || rec.req.Timeout != 3*time.Second {
		t.Errorf("settings not passed through: %+v", rec.req)
	}
	if len(rec.req.Knowledge()) != 1 {
		t.Errorf("knowledge extra: %+v", rec.req.Extra)
	}

	if !strings.HasSuffix(reply.Text, "Echo:how do refunds work?") {
		t.Errorf("text: %q", reply.Text)
	}
	if want := confidence.Score(reply.Text, 1); reply.Confidence != want {
		t.Errorf("confidence not re-scored: got %v want %v", reply.Confidence, want)
	}
	if reply.ProviderName != "mock" || len(reply.Citations) != 1 || len(reply.Knowledge) != 1 {
		t.Errorf("reply: %+v", reply)
	}
}

func TestGenerateReply_NoKnowledgeNoContextMessage(t *testing.T) {
	t.Parallel()
	rec := &recording{Provider: provider.NewMock(8)}
	r, err := New(Config{Providers: provider.NewRegistry(rec), Settings: snapshot("mock"), Retriever: &fakeRetriever{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	reply, err := r.GenerateReply(context.Background(), history(), SystemPrompt)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(rec.req.Messages) != 3 {
		t.Errorf("want 3 messages, got %d", len(rec.req.Messages))
	}
	if reply.Confidence != confidence.Score(reply.Text, 0) {
		t.Errorf("confidence: %v", reply.Confidence)
	}
}

func TestGenerateReply_NamedProviderIdentity(t *testing.T) {
	t.Parallel()
	reg := provider.NewRegistry(provider.NewNamed("lmstudio", provider.NewMock(8)))
	r, err := New(Config{Providers: reg, Settings: snapshot("lmstudio")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	reply, err := r.GenerateReply(context.Background(), history(), SystemPrompt)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.ProviderName != "lmstudio" {
		t.Errorf("provider name: %s", reply.ProviderName)
	}
}

func TestGenerateReply_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		provider string
		genErr   error
		retErr   error
		wantIs   error
	}{
		{name: "unknown provider", provider: "openai", wantIs: provider.ErrUnknownProvider},
		{name: "generation error", provider: "mock", genErr: errors.New("503"), wantIs: provider.ErrProviderFailure},
		{name: "retrieval error", provider: "mock", retErr: errors.New("qdrant down"), wantIs: provider.ErrProviderFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &recording{Provider: provider.NewMock(8), err: tc.genErr}
			r, err := New(Config{
				Providers: provider.NewRegistry(rec),
				Settings:  snapshot(tc.provider),
				Retriever: &fakeRetriever{err: tc.retErr},
			})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if _, err := r.GenerateReply(context.Background(), history(), SystemPrompt); !errors.Is(err, tc.wantIs) {
				t.Fatalf("want %v, got %v", tc.wantIs, err)
			}
		})
	}
}

func TestGenerateReply_TrimsHistoryToBudget(t *testing.T) {
	t.Parallel()
	rec := &recording{Provider: provider.NewMock(8)}
	r, err := New(Config{Providers: provider.NewRegistry(rec), Settings: snapshot("mock"), MaxContextTokens: 40})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	long := []store.Message{
		{Sender: store.SenderUser, Text: strings.Repeat("old ", 100)},
		{Sender: store.SenderUser, Text: "latest"},
	}
	if _, err := r.GenerateReply(context.Background(), long, SystemPrompt); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(rec.req.Messages) != 1 || rec.req.Messages[0].Content != "latest" {
		t.Errorf("want only the newest message, got %d", len(rec.req.Messages))
	}
}

func TestLastUserText(t *testing.T) {
	t.Parallel()
	if got := lastUserText(nil); got != "" {
		t.Errorf("empty: %q", got)
	}
	h := []store.Message{{Sender: store.SenderUser, Text: "q"}, {Sender: store.SenderOperator, Text: "a"}}
	if got := lastUserText(h); got != "q" {
		t.Errorf("got %q", got)
	}
}
