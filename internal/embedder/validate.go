package embedder

import (
	"fmt"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat models
// which are not suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"gemini-",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"doubao",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateModel rejects an embedding model name that is clearly a chat
// model. Every chunk would otherwise be embedded with garbage vectors.
func ValidateModel(model string) error {
	if model != "" && looksLikeChatModel(model) {
		return fmt.Errorf("embedder: %q looks like a chat model, not an embedding model (try nomic-embed-text or text-embedding-3-small)", model)
	}
	return nil
}
