// Package embedder turns text into dense vectors. Each backend implements
// Embedder; provider backends pair a chat model with one of these.
package embedder

import (
	"context"
	"os"
	"strconv"
)

// Embedder converts texts into vectors, parallel to the input. An empty
// model selects the embedder's configured default.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
)

// DefaultModel returns the embedding model used for backend when
// EMBEDDING_MODEL is unset.
func DefaultModel(backend string) string {
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaModel
	case "gemini":
		return defaultGeminiModel
	case "mock":
		return "hash"
	default:
		return defaultOpenAIModel
	}
}

// DefaultDimensions returns the embedding vector size for backend.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	case "mock":
		return DefaultHashDimensions
	default:
		return defaultOpenAIDimensions
	}
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
