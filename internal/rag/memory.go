package rag

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process exact cosine index. Search is linear in the
// number of entries.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[int64][]float32
	norms   map[int64]float64
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		vectors: make(map[int64][]float32),
		norms:   make(map[int64]float64),
	}
}

// Upsert stores a private copy of every vector.
func (m *MemoryIndex) Upsert(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		v := make([]float32, len(e.Vector))
		copy(v, e.Vector)
		m.vectors[e.ID] = v
		m.norms[e.ID] = norm(v)
	}
	return nil
}

// Delete removes ids from the index.
func (m *MemoryIndex) Delete(_ context.Context, ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.vectors, id)
		delete(m.norms, id)
	}
	return nil
}

// Search ranks every entry against query.
func (m *MemoryIndex) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	qn := norm(query)

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.vectors))
	for id, v := range m.vectors {
		hits = append(hits, Hit{ChunkID: id, Score: cosine(query, qn, v, m.norms[id])})
	}
	m.mu.RUnlock()

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports the number of entries.
func (m *MemoryIndex) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors), nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// sortHits orders by score descending, then chunk id ascending.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine is 0 when either norm is zero or the dimensions differ.
func cosine(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	c := dot / (an * bn)
	switch {
	case c > 1:
		c = 1
	case c < -1:
		c = -1
	}
	return float32(c)
}
