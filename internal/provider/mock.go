package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/aiotvet-go/internal/embedder"
)

// mockConfidence is what the mock reports; callers re-score it anyway.
const mockConfidence = 0.5

// Mock is a deterministic offline provider. It echoes the last message and
// cites every knowledge chunk it was given.
type Mock struct {
	embedder *embedder.HashEmbedder
}

// NewMock returns a Mock embedding into dims-length vectors.
func NewMock(dims int) *Mock {
	return &Mock{embedder: embedder.NewHashEmbedder(dims)}
}

// Name returns "mock".
func (m *Mock) Name() string { return string(BackendMock) }

// Generate replies "System:<first 40 runes of system> | Echo:<last user message>".
func (m *Mock) Generate(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("provider mock: %w: %w", ErrProviderFailure, err)
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == schema.User {
			last = req.Messages[i].Content
			break
		}
	}
	system := []rune(req.System)
	if len(system) > 40 {
		system = system[:40]
	}

	knowledge := req.Knowledge()
	cites := make([]Citation, 0, len(knowledge))
	for _, k := range knowledge {
		cites = append(cites, Citation(k))
	}
	return &Result{
		Text:         fmt.Sprintf("System:%s | Echo:%s", string(system), last),
		Citations:    cites,
		Confidence:   mockConfidence,
		ProviderName: m.Name(),
	}, nil
}

// Embed hashes texts; model is ignored.
func (m *Mock) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return m.embedder.Embed(ctx, texts, model)
}
