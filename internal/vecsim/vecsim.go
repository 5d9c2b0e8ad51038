// Package vecsim ranks embedding vectors by cosine similarity.
package vecsim

import (
	"math"
	"sort"

	"github.com/abhisek/studyloop/internal/apperr"
)

// Cosine returns dot(a,b) / (|a|·|b|), clamped to [-1, 1]. It is exactly 1
// for a vector compared with itself and 0 when either vector has zero norm.
// Vectors of different length are rejected.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, apperr.InvalidInput("vecsim.cosine", "dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	// One square root keeps sqrt(n·n) == n, so parallel vectors tie exactly.
	return min(max(dot/math.Sqrt(normA*normB), -1), 1), nil
}

// Candidate is a vector to be ranked against a query.
type Candidate struct {
	ID     string
	Vector []float32
}

// Match is a ranked candidate.
type Match struct {
	ID    string
	Score float64
}

// TopK scores every candidate against query and returns the k best, highest
// first. Equal scores keep the order in which candidates were supplied.
func TopK(query []float32, candidates []Candidate, k int) ([]Match, error) {
	if k < 1 {
		return nil, apperr.InvalidInput("vecsim.topk", "k must be >= 1, got %d", k)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score, err := Cosine(query, c.Vector)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{ID: c.ID, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// AboveThreshold keeps matches whose score is strictly greater than threshold.
func AboveThreshold(matches []Match, threshold float64) []Match {
	out := matches[:0:0]
	for _, m := range matches {
		if m.Score > threshold {
			out = append(out, m)
		}
	}
	return out
}
