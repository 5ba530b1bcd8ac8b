// Package rag holds the retrieval half of the answer pipeline: the vector
// index that maps chunk ids to embeddings, and the retriever that turns a
// query into ranked knowledge passages.
// The index knows nothing about documents; chunk text is resolved through a
// ChunkSource, normally the persistent store.
package rag

import (
	"context"

	"github.com/54b3r/aiotvet-go/internal/store"
)

// Entry is one (chunk id, embedding) pair held by an Index.
type Entry struct {
	// ID is the chunk id from the store.
	ID int64
	// Vector is the chunk embedding.
	Vector []float32
}

// Hit is one ranked search result.
type Hit struct {
	// ChunkID identifies the matched chunk.
	ChunkID int64
	// Score is the cosine similarity in [-1, 1].
	Score float32
}

// Index is an exact similarity index over chunk embeddings.
// Implementations must be safe for concurrent Search interleaved with
// Upsert and Delete.
type Index interface {
	// Upsert inserts or replaces entries.
	Upsert(ctx context.Context, entries ...Entry) error
	// Delete removes ids. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...int64) error
	// Search returns at most k hits ordered by descending score, ties broken
	// by ascending chunk id. An empty index yields an empty result.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Len reports the number of entries.
	Len(ctx context.Context) (int, error)
	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts texts into vectors, parallel to the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkSource resolves chunk ids to stored chunks.
type ChunkSource interface {
	GetChunks(ctx context.Context, ids []int64) (map[int64]store.Chunk, error)
}

// Passage is a retrieved chunk resolved to its text and owning document.
type Passage struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}
