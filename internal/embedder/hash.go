package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector length produced by HashEmbedder.
const DefaultHashDimensions = 256

// HashEmbedder is a deterministic, offline embedder: lower-cased word tokens
// are hashed into a fixed number of signed buckets and the result is L2
// normalised. Texts sharing words therefore have positive cosine similarity.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing dims-length vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed ignores model; the hashing scheme is fixed.
func (h *HashEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float64, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum64()
		bucket := int(sum % uint64(h.dims))
		if sum>>63 == 1 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}

	var n float64
	for _, x := range v {
		n += x * x
	}
	out := make([]float32, h.dims)
	if n == 0 {
		return out
	}
	n = math.Sqrt(n)
	for i, x := range v {
		out[i] = float32(x / n)
	}
	return out
}
