// Package facerec integrates the face-recognition service and provides the
// embedding comparison functions used for check-in decisions.
package facerec

import (
	"context"
	"math"
)

// DefaultTolerance is the distance threshold below which two embeddings are
// considered the same person. Matches the face-recognition service's scale,
// where 0.6 is the common default and smaller values are stricter.
const DefaultTolerance = 0.6

// Provider extracts face embeddings from an image. Implementations return the
// detected faces in provider order; callers only ever use the first one.
type Provider interface {
	Encodings(ctx context.Context, imageJPEG []byte) ([][]float32, error)
}

// Distance computes the Euclidean distance between two embeddings.
// Mismatched or empty vectors yield +Inf, which never matches.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match reports whether two embeddings are within tolerance of each other.
// The boundary itself counts as a match.
func Match(a, b []float32, tolerance float64) bool {
	return Distance(a, b) <= tolerance
}

// Confidence converts a distance into a score in [0, 1], where 1 means the
// embeddings are identical.
func Confidence(distance float64) float64 {
	return math.Max(0.0, math.Min(1.0, 1.0-distance))
}
