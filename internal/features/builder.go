package features

import (
	"math"

	"github.com/quipu/debitcheck/internal/signals"
)

// Schema is the model's feature contract: the base features that seed the
// pairwise ratio expansion, the final selected key list, and any per-feature
// overrides of the zero-denominator sentinel.
type Schema struct {
	BaseFeatures     []string           `json:"base_features"`
	SelectedFeatures []string           `json:"selected_features"`
	RatioSentinels   map[string]float64 `json:"ratio_sentinels,omitempty"`
}

// DefaultBaseFeatures is the standard ratio-expansion seed list.
func DefaultBaseFeatures() []string {
	return []string{
		"tarjetas_credito_count", "zona_premium_count", "engagement_score",
		"impuestos_obligaciones_count", "credito_formal", "servicios_publicos_count",
		"prepago_count", "casas_empeno_count", "pospago_vs_prepago",
		"emergencia_medica_count", "mensajes_positivos_count", "vulnerabilidad_financiera",
		"educacion_count", "pensiones_cesantias_count", "ratio_aprobaciones_rechazos",
	}
}

// DefaultSelectedFeatures is the standard 20-key model input schema.
func DefaultSelectedFeatures() []string {
	return []string{
		"message_count", "nivel_transaccional", "engagement_score", "score_riesgo",
		"R_tarjetas_credito_count_vs_ratio_aprobaciones_rechazos",
		"R_zona_premium_count_vs_servicios_publicos_count",
		"R_zona_premium_count_vs_mensajes_positivos_count",
		"R_zona_premium_count_vs_vulnerabilidad_financiera",
		"R_engagement_score_vs_impuestos_obligaciones_count",
		"R_credito_formal_vs_tarjetas_credito_count",
		"R_credito_formal_vs_ratio_aprobaciones_rechazos",
		"R_servicios_publicos_count_vs_tarjetas_credito_count",
		"R_casas_empeno_count_vs_credito_formal",
		"R_emergencia_medica_count_vs_mensajes_positivos_count",
		"R_emergencia_medica_count_vs_ratio_aprobaciones_rechazos",
		"R_vulnerabilidad_financiera_vs_credito_formal",
		"R_educacion_count_vs_credito_formal",
		"R_educacion_count_vs_mensajes_positivos_count",
		"R_educacion_count_vs_pensiones_cesantias_count",
		"R_ratio_aprobaciones_rechazos_vs_credito_formal",
	}
}

// DefaultSchema returns the standard schema with no sentinel overrides.
func DefaultSchema() Schema {
	return Schema{
		BaseFeatures:     DefaultBaseFeatures(),
		SelectedFeatures: DefaultSelectedFeatures(),
	}
}

// Builder runs the full pipeline: extraction, derived formulas, ratio
// expansion, and selection down to the schema keys.
type Builder struct {
	extractor *Extractor
	formulas  *FormulaSet
	schema    Schema
}

// NewBuilder creates a Builder for the given formula set and schema.
func NewBuilder(formulas *FormulaSet, schema Schema) *Builder {
	return &Builder{
		extractor: NewExtractor(),
		formulas:  formulas,
		schema:    schema,
	}
}

// Build produces the feature vector for a signal bundle's SMS records.
// The output always contains exactly the schema's selected keys, in order.
func (b *Builder) Build(sms []signals.SmsRecord) (*Vector, error) {
	vars := b.extractor.Extract(sms)

	vars, err := b.formulas.Eval(vars)
	if err != nil {
		return nil, err
	}

	b.expand(vars)

	vec := NewVector(b.schema.SelectedFeatures)
	for _, key := range b.schema.SelectedFeatures {
		vec.Set(key, Round4(vars[key])) // missing keys default to 0.0
	}
	return vec, nil
}

// expand adds R_a_vs_b = a/b for every ordered pair of base features.
// A zero denominator yields the feature's sentinel (default 0.0) instead
// of infinity.
func (b *Builder) expand(vars map[string]float64) {
	for _, a := range b.schema.BaseFeatures {
		for _, d := range b.schema.BaseFeatures {
			if a == d {
				continue
			}
			name := "R_" + a + "_vs_" + d
			denom := vars[d]
			if denom == 0 {
				vars[name] = b.sentinel(name)
				continue
			}
			vars[name] = vars[a] / denom
		}
	}
}

func (b *Builder) sentinel(feature string) float64 {
	if v, ok := b.schema.RatioSentinels[feature]; ok {
		return v
	}
	return 0.0
}

// Round4 rounds to 4 decimal places for reproducible serialization.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
