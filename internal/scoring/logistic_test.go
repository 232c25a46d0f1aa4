package scoring

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/quipu/debitcheck/internal/features"
)

func TestLogisticScorer_Score(t *testing.T) {
	s, err := NewLogisticScorer(LogisticArtifact{
		Features:     []string{"a", "b"},
		Coefficients: []float64{2, -1},
		Intercept:    0.5,
	})
	if err != nil {
		t.Fatal(err)
	}

	vec := features.NewVector([]string{"a", "b"})
	vec.Set("a", 1)
	vec.Set("b", 3)

	// z = 0.5 + 2*1 - 1*3 = -0.5
	want := 1 / (1 + math.Exp(0.5))
	got, err := s.Score(context.Background(), vec)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestLogisticScorer_ZeroVector(t *testing.T) {
	s, err := NewLogisticScorer(LogisticArtifact{
		Features:     []string{"a"},
		Coefficients: []float64{3},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Score(context.Background(), features.NewVector([]string{"a"}))
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.5 {
		t.Errorf("sigmoid(0) = %v, want 0.5", got)
	}
}

func TestLogisticScorer_MissingFeature(t *testing.T) {
	s, err := NewLogisticScorer(LogisticArtifact{
		Features:     []string{"a", "missing"},
		Coefficients: []float64{1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Score(context.Background(), features.NewVector([]string{"a"}))
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestNewLogisticScorer_Invalid(t *testing.T) {
	if _, err := NewLogisticScorer(LogisticArtifact{}); err == nil {
		t.Error("expected error for empty artifact")
	}
	_, err := NewLogisticScorer(LogisticArtifact{
		Features:     []string{"a", "b"},
		Coefficients: []float64{1},
	})
	if err == nil {
		t.Error("expected error for feature/coefficient length mismatch")
	}
}
