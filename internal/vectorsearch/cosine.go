// Package vectorsearch ranks stored conversation embeddings by cosine
// similarity to a query vector. It is a brute-force scan meant for the small
// per-user working sets the assistant retrieves from.
package vectorsearch

import (
	"fmt"
	"math"

	"github.com/Veraticus/buyornot/internal/common"
)

var (
	// ErrDimensionMismatch is returned when two vectors have different lengths.
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimensions differ", common.ErrInvalidInput)
	// ErrNonFinite is returned for vectors containing NaN or infinite components.
	ErrNonFinite = fmt.Errorf("%w: vector has non-finite components", common.ErrInvalidInput)
)

// CosineSimilarity returns dot(a,b) / (|a| * |b|). It returns 0 when either
// vector has zero magnitude, and an error when the lengths differ or a
// component is NaN or infinite.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if !isFinite(normA) || !isFinite(normB) || !isFinite(dot) {
		return 0, ErrNonFinite
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0, ErrNonFinite
	}
	// Rounding can push identical vectors slightly past 1
	return math.Max(-1, math.Min(1, sim)), nil
}

// Finite reports whether every component of v is a finite number.
func Finite(v []float32) bool {
	for _, x := range v {
		if !isFinite(float64(x)) {
			return false
		}
	}
	return true
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
