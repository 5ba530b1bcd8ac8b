package provider

import (
	"context"
	"fmt"
	"strings"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"google.golang.org/genai"

	"github.com/54b3r/aiotvet-go/internal/embedder"
)

// openAICompatible is the identity of the shared OpenAI-protocol
// implementation that azure, lmstudio and openrouter wrap.
const openAICompatible = "openai"

// embeddingModel returns the embedding model for backend b.
func (c *Config) embeddingModel(b Backend) string {
	if c.Embedding.Model != "" {
		return c.Embedding.Model
	}
	return embedder.DefaultModel(string(b))
}

// newMock builds the offline provider.
func newMock(cfg *Config) Provider {
	dims := cfg.Embedding.Dimensions
	if dims <= 0 {
		dims = embedder.DefaultDimensions(string(BackendMock))
	}
	return NewMock(dims)
}

// newOpenAI builds a provider backed by the OpenAI API.
func newOpenAI(ctx context.Context, cfg *Config) (Provider, error) {
	chat, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.OpenAI.Model,
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		MaxTokens:   &cfg.Tuning.MaxTokens,
		Temperature: &cfg.Tuning.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai chat model: %w", err)
	}
	emb := embedder.NewOpenAIEmbedder(&embedder.OpenAIConfig{
		BaseURL:    cfg.OpenAI.BaseURL,
		APIKey:     cfg.OpenAI.APIKey,
		Model:      cfg.embeddingModel(BackendOpenAI),
		Dimensions: cfg.Embedding.Dimensions,
	})
	return NewChatProvider(string(BackendOpenAI), chat, emb), nil
}

// newAzure builds an OpenAI-compatible provider pointed at Azure OpenAI and
// reports it as "azure".
func newAzure(ctx context.Context, cfg *Config) (Provider, error) {
	az := cfg.AzureOpenAI
	chat, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       az.Deployment,
		APIKey:      az.APIKey,
		BaseURL:     az.Endpoint,
		ByAzure:     true,
		APIVersion:  az.APIVersion,
		MaxTokens:   &cfg.Tuning.MaxTokens,
		Temperature: &cfg.Tuning.Temperature,
		// Deployment names like "gpt-4.1" must pass through unchanged; the
		// default mapper strips dots and colons.
		AzureModelMapperFunc: func(model string) string { return model },
	})
	if err != nil {
		return nil, fmt.Errorf("provider: azure chat model: %w", err)
	}
	emb := embedder.NewOpenAIEmbedder(&embedder.OpenAIConfig{
		BaseURL:    az.Endpoint,
		APIKey:     az.APIKey,
		Model:      cfg.embeddingModel(BackendAzure),
		Dimensions: cfg.Embedding.Dimensions,
		Azure:      true,
		APIVersion: az.APIVersion,
	})
	return NewNamed(string(BackendAzure), NewChatProvider(openAICompatible, chat, emb)), nil
}

// newLMStudio builds an OpenAI-compatible provider pointed at LM Studio.
func newLMStudio(ctx context.Context, cfg *Config) (Provider, error) {
	base := strings.TrimRight(cfg.LMStudio.URL, "/")
	// LM Studio ignores the key but the client refuses an empty one.
	const key = "lm-studio"
	chat, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.LMStudio.Model,
		APIKey:      key,
		BaseURL:     base,
		MaxTokens:   &cfg.Tuning.MaxTokens,
		Temperature: &cfg.Tuning.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: lmstudio chat model: %w", err)
	}
	emb := embedder.NewOpenAIEmbedder(&embedder.OpenAIConfig{
		BaseURL:    base,
		APIKey:     key,
		Model:      cfg.embeddingModel(BackendLMStudio),
		Dimensions: cfg.Embedding.Dimensions,
	})
	return NewNamed(string(BackendLMStudio), NewChatProvider(openAICompatible, chat, emb)), nil
}

// newOpenRouter builds an OpenAI-compatible provider pointed at OpenRouter.
func newOpenRouter(ctx context.Context, cfg *Config) (Provider, error) {
	chat, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.OpenRouter.Model,
		APIKey:      cfg.OpenRouter.APIKey,
		BaseURL:     openRouterBaseURL,
		MaxTokens:   &cfg.Tuning.MaxTokens,
		Temperature: &cfg.Tuning.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openrouter chat model: %w", err)
	}
	emb := embedder.NewOpenAIEmbedder(&embedder.OpenAIConfig{
		BaseURL:    openRouterBaseURL,
		APIKey:     cfg.OpenRouter.APIKey,
		Model:      cfg.embeddingModel(BackendOpenRouter),
		Dimensions: cfg.Embedding.Dimensions,
	})
	return NewNamed(string(BackendOpenRouter), NewChatProvider(openAICompatible, chat, emb)), nil
}

// newOllama builds a provider backed by a local Ollama instance.
func newOllama(ctx context.Context, cfg *Config) (Provider, error) {
	chat, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: cfg.Ollama.Host,
		Model:   cfg.Ollama.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama chat model: %w", err)
	}
	emb := embedder.NewOllamaEmbedder(&embedder.OllamaConfig{
		Host:  cfg.Ollama.Host,
		Model: cfg.embeddingModel(BackendOllama),
	})
	return NewChatProvider(string(BackendOllama), chat, emb), nil
}

// newGemini builds a provider backed by Google Gemini. Chat and embeddings
// share one genai client.
func newGemini(ctx context.Context, cfg *Config) (Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: failed to create Gemini client: %w", err)
	}
	chat, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Gemini.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini chat model: %w", err)
	}
	emb := embedder.NewGeminiEmbedder(client, cfg.embeddingModel(BackendGemini), cfg.Embedding.Dimensions)
	return NewChatProvider(string(BackendGemini), chat, emb), nil
}

// newArk builds a provider backed by Volcengine Ark. Ark exposes an
// OpenAI-compatible embeddings endpoint under the same base URL.
func newArk(ctx context.Context, cfg *Config) (Provider, error) {
	maxTokens := cfg.Tuning.MaxTokens
	temp := cfg.Tuning.Temperature
	chat, err := einoark.NewChatModel(ctx, &einoark.ChatModelConfig{
		Model:       cfg.Ark.Model,
		APIKey:      cfg.Ark.APIKey,
		BaseURL:     cfg.Ark.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ark chat model: %w", err)
	}
	emb := embedder.NewOpenAIEmbedder(&embedder.OpenAIConfig{
		BaseURL:    cfg.Ark.BaseURL,
		APIKey:     cfg.Ark.APIKey,
		Model:      cfg.embeddingModel(BackendArk),
		Dimensions: cfg.Embedding.Dimensions,
	})
	return NewChatProvider(string(BackendArk), chat, emb), nil
}
