package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/aiotvet-go/internal/provider"
	"github.com/54b3r/aiotvet-go/internal/store"
)

type fakeEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeChunks map[int64]store.Chunk

func (f fakeChunks) GetChunks(_ context.Context, ids []int64) (map[int64]store.Chunk, error) {
	out := make(map[int64]store.Chunk)
	for _, id := range ids {
		if c, ok := f[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func newTestRetriever(t *testing.T, emb *fakeEmbedder, chunks fakeChunks) (*Retriever, *MemoryIndex) {
	t.Helper()
	idx := NewMemoryIndex()
	r, err := NewRetriever(emb, idx, chunks)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	return r, idx
}

func TestRetriever_EmptyQueryShortCircuits(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vec: []float32{1}}
	r, _ := newTestRetriever(t, emb, fakeChunks{})
	for _, q := range []string{"", "   \n"} {
		got, err := r.Retrieve(context.Background(), q, 5)
		if err != nil {
			t.Fatalf("retrieve %q: %v", q, err)
		}
		if len(got) != 0 {
			t.Errorf("retrieve %q: want empty, got %v", q, got)
		}
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for blank queries", emb.calls)
	}
}

func TestRetriever_ResolvesAndSkipsMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	chunks := fakeChunks{
		1: {ID: 1, DocumentID: 10, Text: "refunds take 5 days"},
		2: {ID: 2, DocumentID: 10, Text: "shipping is free"},
	}
	r, idx := newTestRetriever(t, emb, chunks)
	_ = idx.Upsert(ctx,
		Entry{ID: 1, Vector: []float32{1, 0}},
		Entry{ID: 2, Vector: []float32{1, 1}},
		Entry{ID: 3, Vector: []float32{0.9, 0}}, // dangling: not in the store
	)

	got, err := r.Retrieve(ctx, "refund?", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 passages, got %+v", got)
	}
	if got[0].ChunkID != 1 || got[0].DocumentID != 10 || got[0].Text != "refunds take 5 days" {
		t.Errorf("unexpected first passage: %+v", got[0])
	}
	if got[1].ChunkID != 2 {
		t.Errorf("want chunk 2 second, got %+v", got[1])
	}
}

func TestRetriever_AtMostK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := &fakeEmbedder{vec: []float32{1}}
	chunks := fakeChunks{}
	r, idx := newTestRetriever(t, emb, chunks)
	for i := int64(1); i <= 5; i++ {
		chunks[i] = store.Chunk{ID: i, Text: "x"}
		_ = idx.Upsert(ctx, Entry{ID: i, Vector: []float32{1}})
	}
	got, err := r.Retrieve(ctx, "q", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("want 3, got %d", len(got))
	}
}

func TestRetriever_EmbedFailureIsProviderFailure(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{err: errors.New("connection refused")}
	r, _ := newTestRetriever(t, emb, fakeChunks{})
	_, err := r.Retrieve(context.Background(), "q", 3)
	if !errors.Is(err, provider.ErrProviderFailure) {
		t.Fatalf("want ErrProviderFailure, got %v", err)
	}
}

func TestLoadIndex_SkipsMissingEmbeddings(t *testing.T) {
	t.Parallel()
	idx := NewMemoryIndex()
	n, err := LoadIndex(context.Background(), idx, []store.Chunk{
		{ID: 1, Embedding: []float32{1}},
		{ID: 2},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 loaded, got %d", n)
	}
}
