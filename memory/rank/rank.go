// Package rank provides the vector math shared by storage backends and
// the manager's re-ranking step.
package rank

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Cosine returns the cosine similarity between two vectors, clamped to
// [0,1]. Mismatched or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	af := toFloat64(a)
	bf := toFloat64(b)

	normA := floats.Norm(af, 2)
	normB := floats.Norm(bf, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := floats.Dot(af, bf) / (normA * normB)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Normalize converts a vector to unit length. Zero vectors are returned
// unchanged.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Blend mixes a similarity score with a recency term. bias selects how
// much recency matters [0..1]; halfLife controls how fast old memories
// fade. A bias of 0 returns the similarity unchanged.
func Blend(similarity float64, age time.Duration, bias float64, halfLife time.Duration) float64 {
	if bias <= 0 || halfLife <= 0 {
		return similarity
	}
	if bias > 1 {
		bias = 1
	}
	recency := math.Exp2(-age.Hours() / halfLife.Hours())
	return similarity*(1-bias) + recency*bias
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
