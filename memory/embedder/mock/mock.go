// Package mock provides a deterministic embedder for tests.
package mock

import (
	"context"
	"hash/fnv"
	"math/rand"

	"github.com/recallkit/recall/memory/rank"
)

// DefaultDimensions matches the service's smallest real backend.
const DefaultDimensions = 384

// Embedder derives a pseudo-random unit vector from the text alone.
// Identical texts map to identical vectors, so exact-duplicate lookups
// behave realistically; distinct texts land nearly orthogonal, which is
// enough to exercise similarity thresholds without a model.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with DefaultDimensions.
func New() *Embedder {
	return NewWithDimensions(DefaultDimensions)
}

// NewWithDimensions creates a mock embedder producing vectors of the
// given size, for tests that pair it with a specific backend.
func NewWithDimensions(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dimensions: dims}
}

// Embed returns the unit vector seeded by the text's hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		embedding[i] = float32(rng.Float64()*2 - 1)
	}
	return rank.Normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}
