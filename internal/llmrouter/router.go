// Package llmrouter is the answer generator: it enriches a dialog's history
// with retrieved knowledge, asks the active provider for a reply and scores
// the result itself. It never touches dialog state.
package llmrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/aiotvet-go/internal/budget"
	"github.com/54b3r/aiotvet-go/internal/confidence"
	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/rag"
	"github.com/54b3r/aiotvet-go/internal/settings"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// SystemPrompt is the default persona for customer-facing replies.
const SystemPrompt = "You are AiOtvet assistant. Respond based on company knowledge."

// TopK is the number of knowledge chunks retrieved per reply.
const TopK = 3

// knowledgeHeader opens the synthetic context message.
const knowledgeHeader = "Relevant knowledge chunks:"

// Retriever finds knowledge passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]rag.Passage, error)
}

// Providers resolves a provider by name.
type Providers interface {
	Get(name string) (provider.Provider, error)
}

// SettingsSource yields the live generation parameters.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

// Config holds the Router's collaborators.
type Config struct {
	Providers Providers
	Settings  SettingsSource
	// Retriever may be nil, in which case replies carry no knowledge.
	Retriever Retriever
	// MaxContextTokens bounds the prompt; zero uses budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Reply is a scored answer.
type Reply struct {
	Text         string
	Confidence   float64
	Citations    []provider.Citation
	ProviderName string
	Knowledge    []rag.Passage
}

// Router generates replies.
type Router struct {
	providers        Providers
	settings         SettingsSource
	retriever        Retriever
	maxContextTokens int
}

// New constructs a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Providers == nil {
		return nil, fmt.Errorf("llmrouter: providers must not be nil")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("llmrouter: settings must not be nil")
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Router{
		providers:        cfg.Providers,
		settings:         cfg.Settings,
		retriever:        cfg.Retriever,
		maxContextTokens: maxCtx,
	}, nil
}

// GenerateReply answers the last user utterance in history. Any failure to
// reach the provider or the embedder wraps provider.ErrProviderFailure; an
// unknown provider name wraps provider.ErrUnknownProvider.
func (r *Router) GenerateReply(ctx context.Context, history []store.Message, systemPrompt string) (*Reply, error) {
	log := logging.FromContext(ctx)
	snap := r.settings.Snapshot()

	p, err := r.providers.Get(snap.LLMProvider)
	if err != nil {
		return nil, fmt.Errorf("llmrouter: %w", err)
	}

	var passages []rag.Passage
	if r.retriever != nil {
		passages, err = r.retriever.Retrieve(ctx, lastUserText(history), TopK)
		if err != nil {
			if !provider.IsFailure(err) {
				err = fmt.Errorf("%w: %w", provider.ErrProviderFailure, err)
			}
			return nil, fmt.Errorf("llmrouter: retrieve: %w", err)
		}
	}

	msgs := toSchema(history)
	var fixed []*schema.Message
	if len(passages) > 0 {
		fixed = append(fixed, schema.SystemMessage(knowledgeContext(passages)))
	}
	sys := []*schema.Message{schema.SystemMessage(systemPrompt)}
	before := len(msgs)
	msgs = budget.TrimHistory(append(sys, fixed...), msgs, r.maxContextTokens)
	if dropped := before - len(msgs); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(msgs)),
			slog.Int("max_tokens", r.maxContextTokens),
		)
	}
	msgs = append(msgs, fixed...)

	knowledge := make([]provider.Knowledge, len(passages))
	for i, ps := range passages {
		knowledge[i] = provider.Knowledge{ID: ps.ChunkID, Text: ps.Text}
	}

	res, err := p.Generate(ctx, &provider.Request{
		Messages:    msgs,
		System:      systemPrompt,
		Model:       snap.Model,
		Temperature: snap.Temperature,
		MaxTokens:   snap.MaxTokens,
		Timeout:     snap.Timeout,
		Extra:       map[string]any{provider.ExtraKnowledge: knowledge},
	})
	if err != nil {
		if !provider.IsFailure(err) && !errors.Is(err, provider.ErrUnknownProvider) {
			err = fmt.Errorf("%w: %w", provider.ErrProviderFailure, err)
		}
		return nil, fmt.Errorf("llmrouter: generate: %w", err)
	}

	reply := &Reply{
		Text:         res.Text,
		Confidence:   confidence.Score(res.Text, len(res.Citations)),
		Citations:    res.Citations,
		ProviderName: res.ProviderName,
		Knowledge:    passages,
	}
	log.Debug("llmrouter: reply generated",
		slog.String("provider", reply.ProviderName),
		slog.Float64("confidence", reply.Confidence),
		slog.Float64("reported_confidence", res.Confidence),
		slog.Int("knowledge", len(passages)),
		slog.Int("citations", len(reply.Citations)),
	)
	return reply, nil
}

// lastUserText returns the most recent USER message, falling back to the
// last message of any sender.
func lastUserText(history []store.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == store.SenderUser {
			return history[i].Text
		}
	}
	if len(history) > 0 {
		return history[len(history)-1].Text
	}
	return ""
}

// toSchema maps dialog messages to chat roles. Operator messages are
// assistant turns from the user's point of view.
func toSchema(history []store.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Sender {
		case store.SenderUser:
			out = append(out, schema.UserMessage(m.Text))
		default:
			out = append(out, schema.AssistantMessage(m.Text, nil))
		}
	}
	return out
}

func knowledgeContext(passages []rag.Passage) string {
	var b strings.Builder
	b.WriteString(knowledgeHeader)
	for _, ps := range passages {
		b.WriteString("\n[")
		b.WriteString(strconv.FormatInt(ps.ChunkID, 10))
		b.WriteString("] ")
		b.WriteString(ps.Text)
	}
	return b.String()
}
