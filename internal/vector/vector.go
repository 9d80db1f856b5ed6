// Package vector implements the similarity arithmetic used by the question
// cache. It operates on raw []float32 embeddings and has no dependencies on
// the rest of the system, so the matching semantics can be tested in
// isolation from any store or provider.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two embeddings of different lengths
// are compared. Embeddings are only comparable within a single provider
// configuration; a mismatch means the store holds vectors produced by a
// different model and the comparison is meaningless.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// ErrZeroMagnitude is returned when either vector has no direction (all
// components zero, or empty). Cosine similarity is undefined for such
// vectors; callers treat this as "no match" rather than a fatal error.
var ErrZeroMagnitude = errors.New("vector: zero magnitude")

// CosineSimilarity returns the cosine similarity of a and b: their dot
// product divided by the product of their Euclidean norms. The result is in
// [-1, 1], with 1 meaning identical direction.
//
// Accumulation is done in float64 so that long vectors (1536 dimensions for
// text-embedding-3-small) do not lose precision to float32 rounding.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, ErrZeroMagnitude
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
