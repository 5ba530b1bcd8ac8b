package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/aiotvet-go/internal/logging"
	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/store"
)

// Retriever embeds a query, searches the Index and resolves the hits to
// passages through the ChunkSource.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the similarity search.
	index Index

	// chunks resolves chunk ids to text and owning document.
	chunks ChunkSource
}

// NewRetriever constructs a Retriever. None of the arguments may be nil.
func NewRetriever(embedder Embedder, index Index, chunks ChunkSource) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if chunks == nil {
		return nil, fmt.Errorf("rag: chunk source must not be nil")
	}
	return &Retriever{embedder: embedder, index: index, chunks: chunks}, nil
}

// Retrieve returns at most k passages for query, best first. A blank query
// returns nothing without calling the embedder. Embedding failures wrap
// provider.ErrProviderFailure.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return []Passage{}, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", asProviderFailure(err))
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query: %w", provider.ErrProviderFailure)
	}

	hits, err := r.index.Search(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return []Passage{}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	found, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("rag: resolving chunks failed: %w", err)
	}

	out := make([]Passage, 0, len(hits))
	for _, h := range hits {
		c, ok := found[h.ChunkID]
		if !ok {
			logging.FromContext(ctx).Error("rag: index entry has no stored chunk",
				"chunk_id", h.ChunkID)
			continue
		}
		out = append(out, Passage{ChunkID: c.ID, DocumentID: c.DocumentID, Text: c.Text, Score: h.Score})
	}
	return out, nil
}

func asProviderFailure(err error) error {
	if provider.IsFailure(err) {
		return err
	}
	return fmt.Errorf("%w: %w", provider.ErrProviderFailure, err)
}

// LoadIndex upserts every chunk that carries an embedding. It is used at
// startup to rebuild a MemoryIndex from the store.
func LoadIndex(ctx context.Context, index Index, chunks []store.Chunk) (int, error) {
	entries := make([]Entry, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		entries = append(entries, Entry{ID: c.ID, Vector: c.Embedding})
	}
	if err := index.Upsert(ctx, entries...); err != nil {
		return 0, fmt.Errorf("rag: load index: %w", err)
	}
	return len(entries), nil
}
