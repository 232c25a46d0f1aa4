// Package scoring runs the pinned model artifact over a feature vector.
// A model ships as a bundle: manifest, schema, formulas, threshold, and
// the scorer artifact, versioned and loaded together at startup.
package scoring

import (
	"context"
	"errors"

	"github.com/quipu/debitcheck/internal/features"
)

var (
	// ErrSchemaMismatch means the feature vector's key set does not match
	// the model schema. Detected before any inference runs.
	ErrSchemaMismatch = errors.New("feature vector does not match model schema")

	// ErrInference means the model failed to produce a usable probability.
	ErrInference = errors.New("model inference failed")
)

// Scorer produces a probability in [0, 1] for a feature vector.
type Scorer interface {
	Score(ctx context.Context, vec *features.Vector) (float64, error)
	Close() error
}
