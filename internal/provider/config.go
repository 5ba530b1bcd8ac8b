package provider

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by ConfigFromEnv.
const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
	defaultTimeout     = 30 * time.Second
	defaultLMStudioURL = "http://localhost:1234/v1"
	defaultOllamaHost  = "http://localhost:11434"
	openRouterBaseURL  = "https://openrouter.ai/api/v1"
	defaultArkBaseURL  = "https://ark.cn-beijing.volces.com/api/v3"
)

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is OPENAI_API_KEY.
	APIKey string
	// BaseURL is OPENAI_BASE_URL; empty means api.openai.com.
	BaseURL string
	// Model is the chat model (MODEL_NAME).
	Model string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// APIKey is AZURE_OPENAI_API_KEY.
	APIKey string
	// Endpoint is AZURE_OPENAI_ENDPOINT, e.g. https://my.openai.azure.com.
	Endpoint string
	// Deployment is AZURE_OPENAI_DEPLOYMENT, used as the model name.
	Deployment string
	// APIVersion is AZURE_OPENAI_API_VERSION.
	APIVersion string
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is OLLAMA_HOST.
	Host string
	// Model is OLLAMA_MODEL.
	Model string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is GOOGLE_API_KEY.
	APIKey string
	// Model is GEMINI_MODEL.
	Model string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	// APIKey is ARK_API_KEY.
	APIKey string
	// BaseURL is ARK_BASE_URL.
	BaseURL string
	// Model is ARK_MODEL, an endpoint id.
	Model string
}

// ProviderLMStudio holds LM Studio settings.
type ProviderLMStudio struct {
	// URL is LM_STUDIO_URL, the OpenAI-compatible base including /v1.
	URL string
	// Model is the loaded model name (MODEL_NAME).
	Model string
}

// ProviderOpenRouter holds OpenRouter settings.
type ProviderOpenRouter struct {
	// APIKey is OPENROUTER_API_KEY.
	APIKey string
	// Model is OPENROUTER_MODEL.
	Model string
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Backend is EMBEDDING_PROVIDER, defaulting to the chat backend.
	Backend Backend
	// Model is EMBEDDING_MODEL.
	Model string
	// Dimensions is EMBEDDING_DIMENSIONS (0 = model default).
	Dimensions int
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens is MODEL_MAX_TOKENS.
	MaxTokens int
	// Temperature is MODEL_TEMPERATURE.
	Temperature float32
	// Timeout is MODEL_TIMEOUT.
	Timeout time.Duration
}

// Config holds every provider setting resolved from the environment.
type Config struct {
	// Backend is MODEL_PROVIDER, the provider used for answers by default.
	Backend Backend

	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ollama      ProviderOllama
	Gemini      ProviderGemini
	Ark         ProviderArk
	LMStudio    ProviderLMStudio
	OpenRouter  ProviderOpenRouter

	Embedding EmbeddingConfig
	Tuning    SharedTuning
}

// ConfigFromEnv reads provider configuration from environment variables.
//
//	MODEL_PROVIDER  = mock | openai | azure | ollama | gemini | ark | lmstudio | openrouter (default: openai)
//	MODEL_NAME      default chat model for openai and lmstudio (default: gpt-4o-mini)
//	OpenAI:     OPENAI_API_KEY, OPENAI_BASE_URL
//	Azure:      AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT, AZURE_OPENAI_API_VERSION
//	Ollama:     OLLAMA_HOST, OLLAMA_MODEL
//	Gemini:     GOOGLE_API_KEY, GEMINI_MODEL
//	Ark:        ARK_API_KEY, ARK_BASE_URL, ARK_MODEL
//	LM Studio:  LM_STUDIO_URL
//	OpenRouter: OPENROUTER_API_KEY, OPENROUTER_MODEL
//	Embedding:  EMBEDDING_PROVIDER, EMBEDDING_MODEL, EMBEDDING_DIMENSIONS
//	Shared:     MODEL_MAX_TOKENS, MODEL_TEMPERATURE, MODEL_TIMEOUT
func ConfigFromEnv() *Config {
	modelName := getEnvOrDefault("MODEL_NAME", defaultModel)
	cfg := &Config{
		Backend: Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendOpenAI))),
		OpenAI: ProviderOpenAI{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   modelName,
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		},
		Ollama: ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", defaultOllamaHost),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		},
		Gemini: ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		},
		Ark: ProviderArk{
			APIKey:  os.Getenv("ARK_API_KEY"),
			BaseURL: getEnvOrDefault("ARK_BASE_URL", defaultArkBaseURL),
			Model:   os.Getenv("ARK_MODEL"),
		},
		LMStudio: ProviderLMStudio{
			URL:   getEnvOrDefault("LM_STUDIO_URL", defaultLMStudioURL),
			Model: modelName,
		},
		OpenRouter: ProviderOpenRouter{
			APIKey: os.Getenv("OPENROUTER_API_KEY"),
			Model:  getEnvOrDefault("OPENROUTER_MODEL", "openai/"+modelName),
		},
		Embedding: EmbeddingConfig{
			Backend:    Backend(os.Getenv("EMBEDDING_PROVIDER")),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		},
		Tuning: SharedTuning{
			MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", defaultMaxTokens),
			Temperature: getEnvFloat32("MODEL_TEMPERATURE", defaultTemperature),
			Timeout:     getEnvDuration("MODEL_TIMEOUT", defaultTimeout),
		},
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = cfg.Backend
	}
	return cfg
}

// Validate checks that the selected backend and the embedding backend are
// known and fully configured.
func (c *Config) Validate() error {
	if err := c.ValidateBackend(c.Backend); err != nil {
		return err
	}
	if c.Embedding.Backend != "" && c.Embedding.Backend != c.Backend {
		if err := c.ValidateBackend(c.Embedding.Backend); err != nil {
			return fmt.Errorf("provider: embedding: %w", err)
		}
	}
	return nil
}

// ModelFor returns the configured chat model of backend b, or "" when the
// backend has none (mock).
func (c *Config) ModelFor(b Backend) string {
	switch b {
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendOllama:
		return c.Ollama.Model
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	case BackendLMStudio:
		return c.LMStudio.Model
	case BackendOpenRouter:
		return c.OpenRouter.Model
	default:
		return ""
	}
}

// ValidateBackend checks the settings one backend needs.
func (c *Config) ValidateBackend(b Backend) error {
	var missing []string
	need := func(v, key string) {
		if v == "" {
			missing = append(missing, key)
		}
	}
	switch b {
	case BackendMock:
	case BackendOpenAI:
		need(c.OpenAI.APIKey, "OPENAI_API_KEY")
		need(c.OpenAI.Model, "MODEL_NAME")
	case BackendAzure:
		need(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		need(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		need(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendOllama:
		need(c.Ollama.Host, "OLLAMA_HOST")
		need(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendGemini:
		need(c.Gemini.APIKey, "GOOGLE_API_KEY")
		need(c.Gemini.Model, "GEMINI_MODEL")
	case BackendArk:
		need(c.Ark.APIKey, "ARK_API_KEY")
		need(c.Ark.Model, "ARK_MODEL")
	case BackendLMStudio:
		need(c.LMStudio.URL, "LM_STUDIO_URL")
		need(c.LMStudio.Model, "MODEL_NAME")
	case BackendOpenRouter:
		need(c.OpenRouter.APIKey, "OPENROUTER_API_KEY")
		need(c.OpenRouter.Model, "OPENROUTER_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: %s): %w", b, backendList(), ErrUnknownProvider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", b, strings.Join(missing, ", "))
	}
	return nil
}

func backendList() string {
	names := make([]string, len(AllBackends))
	for i, b := range AllBackends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// getEnvDuration accepts a Go duration ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return fallback
}
