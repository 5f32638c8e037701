// Package vector provides the nearest-neighbour index over thought embeddings.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Match is a ranked query hit; Score is cosine similarity in [-1, 1].
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Filter is an equality filter on metadata.
type Filter map[string]any

type Index interface {
	Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error
	Query(ctx context.Context, vec []float32, k int, filter Filter) ([]Match, error)
}

// Cosine returns the cosine similarity of a and b, or 0 if either is zero.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func (f Filter) matches(md map[string]any) bool {
	for k, want := range f {
		got, ok := md[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
