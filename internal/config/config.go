// Package config provides file-based configuration for aiotvet.
// Configuration is layered: defaults → YAML file → .env file → env vars.
// Process environment always wins; the files only fill in what is unset.
//
// File search order for the YAML file:
//  1. --config CLI flag (explicit path)
//  2. AIOTVET_CONFIG environment variable
//  3. ~/.aiotvet/config.yaml
//  4. ./aiotvet.yaml
//
// A .env file in the working directory is read first, so its values beat
// the YAML file. If neither file exists the system runs from env vars alone.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the chat providers.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider for retrieval.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Dialog configures escalation and history.
	Dialog DialogConfig `yaml:"dialog"`

	// VectorIndex selects the index backend: memory or qdrant.
	VectorIndex string `yaml:"vector_index"`

	// Qdrant configures the optional Qdrant index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Database configures the persistent store.
	Database DatabaseConfig `yaml:"database"`

	// Redis configures the cross-instance notification relay.
	Redis RedisConfig `yaml:"redis"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	Provider      string `yaml:"provider"`
	Name          string `yaml:"name"`
	MaxTokens     int    `yaml:"max_tokens"`
	ContextTokens int    `yaml:"context_tokens"`
	// Temperature is in [0,2].
	Temperature float32 `yaml:"temperature"`
	// Timeout is a Go duration ("30s") or whole seconds.
	Timeout string `yaml:"timeout"`

	OpenAI     OpenAIConfig     `yaml:"openai"`
	Azure      AzureConfig      `yaml:"azure"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Ark        ArkConfig        `yaml:"ark"`
	LMStudio   LMStudioConfig   `yaml:"lmstudio"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// OpenAIConfig holds OpenAI settings. Prefer env var OPENAI_API_KEY for the key.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI settings.
type AzureConfig struct {
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// OllamaConfig holds Ollama settings.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ArkConfig holds Volcengine Ark settings.
type ArkConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// LMStudioConfig holds the LM Studio endpoint.
type LMStudioConfig struct {
	URL string `yaml:"url"`
}

// OpenRouterConfig holds OpenRouter settings.
type OpenRouterConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// DialogConfig holds escalation and history settings.
type DialogConfig struct {
	// ConfidenceThreshold is the score below which replies escalate.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// HistoryDepth is how many messages are fed to the generator.
	HistoryDepth int `yaml:"history_depth"`
	// IdleTimeout is how long an AUTO dialog stays reusable.
	IdleTimeout string `yaml:"idle_timeout"`
}

// QdrantConfig holds Qdrant settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
	TLS        bool   `yaml:"tls"`
}

// DatabaseConfig holds store settings.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	// URL is a file path for sqlite or a connection string for postgres.
	URL string `yaml:"url"`
}

// RedisConfig holds the relay connection.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var AIOTVET_API_KEY.
	APIKey string `yaml:"api_key"`
	// WebOrigin is a comma-separated CORS allow-list.
	WebOrigin string `yaml:"web_origin"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_NAME", func(c *Config) string { return c.Model.Name }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Model.ContextTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"MODEL_TIMEOUT", func(c *Config) string { return c.Model.Timeout }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"LM_STUDIO_URL", func(c *Config) string { return c.Model.LMStudio.URL }},
	{"OPENROUTER_API_KEY", func(c *Config) string { return c.Model.OpenRouter.APIKey }},
	{"OPENROUTER_MODEL", func(c *Config) string { return c.Model.OpenRouter.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"CONFIDENCE_THRESHOLD", func(c *Config) string { return float64Str(c.Dialog.ConfidenceThreshold) }},
	{"HISTORY_DEPTH", func(c *Config) string { return intStr(c.Dialog.HistoryDepth) }},
	{"DIALOG_IDLE_TIMEOUT", func(c *Config) string { return c.Dialog.IdleTimeout }},
	{"VECTOR_INDEX", func(c *Config) string { return c.VectorIndex }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"DATABASE_DRIVER", func(c *Config) string { return c.Database.Driver }},
	{"DATABASE_URL", func(c *Config) string { return c.Database.URL }},
	{"REDIS_URL", func(c *Config) string { return c.Redis.URL }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"AIOTVET_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"WEB_ORIGIN", func(c *Config) string { return c.Server.WebOrigin }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load applies the .env file and then the YAML file to the environment,
// never overwriting variables that are already set. It returns the YAML
// path that was loaded, or "" if none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		v := m.value(&cfg)
		if v == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)
	return path, nil
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment without
// overriding existing variables. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: failed to read %s: %w", path, err)
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("AIOTVET_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".aiotvet", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("aiotvet.yaml"); err == nil {
		return "aiotvet.yaml"
	}
	return ""
}

func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

// float64Str treats 0 as unset, like the other helpers.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
