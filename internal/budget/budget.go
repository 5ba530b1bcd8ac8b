// Package budget estimates prompt size and trims dialog history so the
// request sent to a provider stays inside its context window. Backends use
// different tokenizers, so the estimate is a character heuristic: about four
// runes per token. Runes, not bytes, so Cyrillic text is not double counted.
package budget

import (
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// runesPerToken is the rune-to-token ratio used for estimation.
	runesPerToken = 4

	// messageOverhead approximates the per-message framing most APIs add.
	messageOverhead = 4

	// DefaultMaxContextTokens fits 8k-context models with room for the reply.
	DefaultMaxContextTokens = 6000
)

// MaxContextTokensFromEnv reads MODEL_CONTEXT_TOKENS, falling back to
// DefaultMaxContextTokens.
func MaxContextTokensFromEnv() int {
	if v := os.Getenv("MODEL_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultMaxContextTokens
}

// Estimate returns a rough token count for s. Any non-empty string costs at
// least one token.
func Estimate(s string) int {
	runes := utf8.RuneCountInString(s)
	n := runes / runesPerToken
	if n == 0 && runes > 0 {
		return 1
	}
	return n
}

// EstimateMessages sums overhead, role and content over msgs.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed+history fits in
// maxTokens. fixed (system prompt, knowledge context) is never trimmed; if
// fixed alone is over budget the result is empty and the caller should warn.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}
	budget := maxTokens - EstimateMessages(fixed)
	// Walk from the newest message backwards, keeping as many as fit.
	used := 0
	keep := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateMessages(history[i : i+1])
		if used+cost > budget {
			break
		}
		used += cost
		keep = i
	}
	return history[keep:]
}
