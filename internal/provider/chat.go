package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/aiotvet-go/internal/embedder"
)

// citationMarker matches "[123]" references to knowledge chunk ids.
var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// ChatProvider adapts an eino chat model and an embedder to Provider.
type ChatProvider struct {
	// name is the provider identity reported in results.
	name string
	// chat is the eino chat model.
	chat model.ToolCallingChatModel
	// embedder serves Embed.
	embedder embedder.Embedder
}

// NewChatProvider builds a ChatProvider. emb may be nil for chat-only use,
// in which case Embed fails with ErrProviderFailure.
func NewChatProvider(name string, chat model.ToolCallingChatModel, emb embedder.Embedder) *ChatProvider {
	return &ChatProvider{name: name, chat: chat, embedder: emb}
}

// Name returns the provider identity.
func (p *ChatProvider) Name() string { return p.name }

// Generate calls the chat model within req.Timeout. Citations are the
// knowledge chunks whose "[id]" marker appears in the answer.
func (p *ChatProvider) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	msgs := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	msgs = append(msgs, req.Messages...)

	cm := p.chat
	if len(req.Tools) > 0 {
		withTools, err := p.chat.WithTools(req.Tools)
		if err != nil {
			return nil, p.failure("bind tools", err)
		}
		cm = withTools
	}

	opts := []model.Option{model.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}

	out, err := cm.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, p.failure("generate", err)
	}
	if out == nil {
		return nil, p.failure("generate", errors.New("empty response"))
	}

	return &Result{
		Text:         out.Content,
		Citations:    citedKnowledge(out.Content, req.Knowledge()),
		ProviderName: p.name,
	}, nil
}

// Embed delegates to the embedder.
func (p *ChatProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if p.embedder == nil {
		return nil, fmt.Errorf("provider %s: embed: %w: no embedder configured", p.name, ErrProviderFailure)
	}
	vecs, err := p.embedder.Embed(ctx, texts, model)
	if err != nil {
		return nil, p.failure("embed", err)
	}
	return vecs, nil
}

// failure wraps err as a provider failure, naming timeouts explicitly.
func (p *ChatProvider) failure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("provider %s: %s timed out: %w: %w", p.name, op, ErrProviderFailure, err)
	}
	return fmt.Errorf("provider %s: %s: %w: %w", p.name, op, ErrProviderFailure, err)
}

// citedKnowledge returns the knowledge items referenced by "[id]" markers in
// text, in first-mention order.
func citedKnowledge(text string, knowledge []Knowledge) []Citation {
	if len(knowledge) == 0 {
		return nil
	}
	byID := make(map[int64]Knowledge, len(knowledge))
	for _, k := range knowledge {
		byID[k.ID] = k
	}
	var out []Citation
	seen := make(map[int64]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || seen[id] {
			continue
		}
		if k, ok := byID[id]; ok {
			seen[id] = true
			out = append(out, Citation(k))
		}
	}
	return out
}
