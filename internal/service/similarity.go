package service

import (
	"fmt"
	"math"

	"github.com/timmy/mmrag/internal/domain"
)

// Normalize returns v scaled to unit L2 norm. A zero vector is returned as a
// zero-valued copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := l2Norm(v)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b.
// A zero-norm input yields NaN; callers decide how to treat it.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dimension mismatch %d != %d", domain.ErrInvalidInput, len(a), len(b))
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (l2Norm(a) * l2Norm(b)), nil
}

// ComputeSimilarity scores query against every corpus vector, in corpus order.
func ComputeSimilarity(query []float32, corpus [][]float32) ([]float64, error) {
	scores := make([]float64, len(corpus))
	for i, v := range corpus {
		s, err := CosineSimilarity(query, v)
		if err != nil {
			return nil, fmt.Errorf("corpus[%d]: %w", i, err)
		}
		scores[i] = s
	}
	return scores, nil
}

// sanitizeScore maps NaN and ±Inf to 0. The bool reports a replacement.
func sanitizeScore(s float64) (float64, bool) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, true
	}
	return s, false
}

// averagePair returns normalize((a+b)/2).
func averagePair(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: pair dimension mismatch %d != %d", domain.ErrInvalidInput, len(a), len(b))
	}
	avg := make([]float32, len(a))
	for i := range a {
		avg[i] = (a[i] + b[i]) / 2
	}
	return Normalize(avg), nil
}
