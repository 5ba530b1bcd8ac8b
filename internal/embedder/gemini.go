package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEmbedder embeds through the Gemini API's EmbedContent call.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder wraps an existing genai client so the chat model and the
// embedder share one connection.
func NewGeminiEmbedder(client *genai.Client, model string, dimensions int) *GeminiEmbedder {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions}
}

// Embed returns one vector per input text.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if model == "" {
		model = e.model
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		d := int32(e.dimensions)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &d}
	}
	resp, err := e.client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini embedder: empty embedding at %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
