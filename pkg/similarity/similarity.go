// Package similarity provides pure vector-similarity primitives used by the
// decision engine and knowledge search. No I/O, deterministic.
package similarity

import (
	"math"
	"sort"
)

// Cosine computes the cosine similarity between two vectors, in [-1, 1].
// Returns 0 (not an error) when either vector is empty, the lengths differ,
// or either vector has zero magnitude, so a corrupt or missing embedding
// degrades to "no match" instead of failing the whole decision.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Scored pairs a candidate index with its similarity to the query.
type Scored struct {
	Index int
	Score float64
}

// Rank scores every candidate against the query and returns them ordered by
// descending score. Ties keep candidate insertion order (stable sort).
func Rank(query []float32, candidates [][]float32) []Scored {
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{Index: i, Score: Cosine(query, c)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}
