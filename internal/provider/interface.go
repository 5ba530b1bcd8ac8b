// Package provider defines the generation/embedding contract shared by every
// language-model backend, the registry that selects one by name at runtime,
// and the eino-based implementations of the supported backends.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/schema"
)

// ErrProviderFailure marks a generation or embedding call that errored or
// timed out. It is never used for a low-confidence answer.
var ErrProviderFailure = errors.New("provider failure")

// ErrUnknownProvider is returned when a name has no registered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// IsFailure reports whether err is, or wraps, ErrProviderFailure.
func IsFailure(err error) bool {
	return errors.Is(err, ErrProviderFailure)
}

// Backend enumerates the supported provider names.
type Backend string

const (
	// BackendMock is the deterministic offline provider.
	BackendMock Backend = "mock"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects the Volcengine Ark runtime.
	BackendArk Backend = "ark"
	// BackendLMStudio selects a local LM Studio server (OpenAI compatible).
	BackendLMStudio Backend = "lmstudio"
	// BackendOpenRouter selects OpenRouter (OpenAI compatible).
	BackendOpenRouter Backend = "openrouter"
)

// AllBackends lists every supported backend in a stable order.
var AllBackends = []Backend{
	BackendMock, BackendOpenAI, BackendAzure, BackendOllama,
	BackendGemini, BackendArk, BackendLMStudio, BackendOpenRouter,
}

// Known reports whether b is a supported backend name.
func (b Backend) Known() bool {
	for _, k := range AllBackends {
		if k == b {
			return true
		}
	}
	return false
}

// Knowledge is one retrieved chunk handed to a provider.
type Knowledge struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Citation is a knowledge chunk the provider used in its answer.
type Citation struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// ExtraKnowledge is the Request.Extra key carrying []Knowledge.
const ExtraKnowledge = "knowledge"

// Request is one generation call.
type Request struct {
	// Messages is the conversation, oldest first. It does not include the
	// system prompt.
	Messages []*schema.Message
	// System is the system prompt.
	System string
	// Tools are passed to tool-capable models. Usually empty.
	Tools []*schema.ToolInfo
	// Model overrides the backend's default model when non-empty.
	Model string
	// Temperature is the sampling temperature.
	Temperature float32
	// MaxTokens caps the response length; zero leaves the backend default.
	MaxTokens int
	// Timeout bounds the call; zero means no extra bound.
	Timeout time.Duration
	// Extra carries provider-specific context, see ExtraKnowledge.
	Extra map[string]any
}

// Knowledge returns the knowledge attached to the request, if any.
func (r *Request) Knowledge() []Knowledge {
	if r == nil || r.Extra == nil {
		return nil
	}
	k, _ := r.Extra[ExtraKnowledge].([]Knowledge)
	return k
}

// Result is a generated answer.
type Result struct {
	// Text is the answer.
	Text string
	// Citations are the knowledge chunks the answer relied on.
	Citations []Citation
	// Confidence is whatever the provider reported. It is not trusted.
	Confidence float64
	// ProviderName is the identity of the provider that was asked, never the
	// name of an inner delegate.
	ProviderName string
}

// Provider is the two-operation contract every backend implements.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name is the provider's own identity.
	Name() string
	// Generate produces an answer. Errors wrap ErrProviderFailure.
	Generate(ctx context.Context, req *Request) (*Result, error)
	// Embed returns one vector per text. Errors wrap ErrProviderFailure.
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}
