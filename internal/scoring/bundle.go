package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quipu/debitcheck/internal/features"
	"github.com/quipu/debitcheck/internal/metrics"
	"github.com/quipu/debitcheck/internal/signals"
	"github.com/quipu/debitcheck/internal/traces"
)

// ScorerSpec names the artifact the bundle scores with.
type ScorerSpec struct {
	Type       string `json:"type"` // "logistic" or "onnx"
	Artifact   string `json:"artifact"`
	InputName  string `json:"input_name,omitempty"`  // onnx only
	OutputName string `json:"output_name,omitempty"` // onnx only
}

// Manifest is the on-disk model.json. Schema and formulas are optional;
// omitted sections fall back to the standard defaults so a manifest can
// pin just a version, threshold, and artifact.
type Manifest struct {
	Version   string             `json:"version"`
	Threshold float64            `json:"threshold"`
	Schema    *features.Schema   `json:"schema,omitempty"`
	Formulas  []features.Formula `json:"formulas,omitempty"`
	Scorer    ScorerSpec         `json:"scorer"`
}

// Bundle is one loaded model version: schema, formulas, threshold, and
// scorer, treated as a single immutable unit after load.
type Bundle struct {
	Version   string
	Threshold float64

	schema  features.Schema
	builder *features.Builder
	scorer  Scorer
}

// NewBundle assembles a bundle from parts. Used directly in tests; LoadBundle
// is the production path.
func NewBundle(version string, threshold float64, schema features.Schema, formulas *features.FormulaSet, scorer Scorer) *Bundle {
	return &Bundle{
		Version:   version,
		Threshold: threshold,
		schema:    schema,
		builder:   features.NewBuilder(formulas, schema),
		scorer:    scorer,
	}
}

// LoadBundle reads a model.json manifest and its artifact. Artifact paths
// are resolved relative to the manifest's directory. onnxLibraryPath is
// only consulted for onnx scorers.
func LoadBundle(manifestPath, onnxLibraryPath string) (*Bundle, error) {
	data, err := os.ReadFile(manifestPath) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model manifest: %w", err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("model manifest missing version")
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return nil, fmt.Errorf("model threshold %v out of (0, 1)", m.Threshold)
	}

	schema := features.DefaultSchema()
	if m.Schema != nil {
		schema = *m.Schema
		if len(schema.BaseFeatures) == 0 {
			schema.BaseFeatures = features.DefaultBaseFeatures()
		}
		if len(schema.SelectedFeatures) == 0 {
			schema.SelectedFeatures = features.DefaultSelectedFeatures()
		}
	}

	formulaDefs := m.Formulas
	if len(formulaDefs) == 0 {
		formulaDefs = features.DefaultFormulas()
	}
	formulas, err := features.NewFormulaSet(formulaDefs)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", m.Version, err)
	}

	dir := filepath.Dir(manifestPath)
	artifact := m.Scorer.Artifact
	if artifact != "" && !filepath.IsAbs(artifact) {
		artifact = filepath.Join(dir, artifact)
	}

	var scorer Scorer
	switch m.Scorer.Type {
	case "logistic":
		scorer, err = LoadLogisticScorer(artifact)
	case "onnx":
		scorer, err = NewONNXScorer(artifact, onnxLibraryPath,
			m.Scorer.InputName, m.Scorer.OutputName, len(schema.SelectedFeatures))
	default:
		err = fmt.Errorf("unknown scorer type %q", m.Scorer.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", m.Version, err)
	}

	return NewBundle(m.Version, m.Threshold, schema, formulas, scorer), nil
}

// Schema returns the bundle's feature schema.
func (b *Bundle) Schema() features.Schema {
	return b.schema
}

// BuildFeatures runs the feature pipeline for a set of SMS records.
func (b *Bundle) BuildFeatures(sms []signals.SmsRecord) (*features.Vector, error) {
	return b.builder.Build(sms)
}

// Score validates the vector against the schema and runs inference.
// Validation happens strictly before the scorer is invoked.
func (b *Bundle) Score(ctx context.Context, vec *features.Vector) (float64, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.Score", traces.ModelVersion(b.Version))
	defer span.End()

	if err := b.validateSchema(vec); err != nil {
		return 0, err
	}

	timer := prometheus.NewTimer(metrics.ScoringDuration)
	p, err := b.scorer.Score(ctx, vec)
	timer.ObserveDuration()
	if err != nil {
		if isSchemaMismatch(err) {
			return 0, err
		}
		return 0, fmt.Errorf("score with %s: %v: %w", b.Version, err, ErrInference)
	}
	// NaN fails both range comparisons, so it needs its own check: an
	// undecidable probability must never reach Decide.
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("probability %v out of [0, 1]: %w", p, ErrInference)
	}
	return p, nil
}

// Close releases the scorer's resources.
func (b *Bundle) Close() error {
	return b.scorer.Close()
}

func (b *Bundle) validateSchema(vec *features.Vector) error {
	keys := vec.Keys()
	if len(keys) != len(b.schema.SelectedFeatures) {
		return fmt.Errorf("vector has %d keys, schema %s has %d: %w",
			len(keys), b.Version, len(b.schema.SelectedFeatures), ErrSchemaMismatch)
	}
	for i, k := range b.schema.SelectedFeatures {
		if keys[i] != k {
			return fmt.Errorf("vector key %d is %q, schema %s wants %q: %w",
				i, keys[i], b.Version, k, ErrSchemaMismatch)
		}
	}
	return nil
}

func isSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}
