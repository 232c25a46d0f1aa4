package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/quipu/debitcheck/internal/features"
)

// LogisticArtifact is the on-disk shape of a logistic model artifact.
type LogisticArtifact struct {
	Features     []string  `json:"features"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// LogisticScorer is a pure-Go logistic regression scorer. Deterministic,
// no external runtime, used for tests and small production models.
type LogisticScorer struct {
	featureNames []string
	coefficients []float64
	intercept    float64
}

// NewLogisticScorer builds a scorer from an artifact.
func NewLogisticScorer(a LogisticArtifact) (*LogisticScorer, error) {
	if len(a.Features) == 0 {
		return nil, fmt.Errorf("logistic artifact has no features")
	}
	if len(a.Features) != len(a.Coefficients) {
		return nil, fmt.Errorf("logistic artifact: %d features but %d coefficients",
			len(a.Features), len(a.Coefficients))
	}
	return &LogisticScorer{
		featureNames: a.Features,
		coefficients: a.Coefficients,
		intercept:    a.Intercept,
	}, nil
}

// LoadLogisticScorer reads a JSON artifact from disk.
func LoadLogisticScorer(path string) (*LogisticScorer, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the bundle manifest
	if err != nil {
		return nil, fmt.Errorf("read logistic artifact: %w", err)
	}
	var a LogisticArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse logistic artifact: %w", err)
	}
	return NewLogisticScorer(a)
}

// Score computes sigmoid(intercept + coef · x) over the artifact's own
// feature order.
func (s *LogisticScorer) Score(ctx context.Context, vec *features.Vector) (float64, error) {
	z := s.intercept
	for i, name := range s.featureNames {
		v, ok := vec.Get(name)
		if !ok {
			return 0, fmt.Errorf("vector missing feature %s: %w", name, ErrSchemaMismatch)
		}
		z += s.coefficients[i] * v
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// Close is a no-op; the scorer holds no external resources.
func (s *LogisticScorer) Close() error { return nil }
