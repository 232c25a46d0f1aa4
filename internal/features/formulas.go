package features

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrFormula means a derived-variable formula failed to evaluate.
var ErrFormula = errors.New("formula evaluation failed")

// Formula is one derived variable, shipped as configuration inside the
// model bundle so formula changes version with the model.
type Formula struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

type compiledFormula struct {
	name    string
	program *vm.Program
}

// FormulaSet is an ordered list of compiled formulas. Order matters:
// later formulas may reference the results of earlier ones.
type FormulaSet struct {
	formulas []compiledFormula
}

// NewFormulaSet compiles the formulas. A compile error fails the whole set.
func NewFormulaSet(formulas []Formula) (*FormulaSet, error) {
	compiled := make([]compiledFormula, 0, len(formulas))
	for _, f := range formulas {
		program, err := expr.Compile(f.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile formula %s: %w", f.Name, err)
		}
		compiled = append(compiled, compiledFormula{name: f.Name, program: program})
	}
	return &FormulaSet{formulas: compiled}, nil
}

// Eval runs all formulas over the variable map and returns a new map
// holding the inputs plus every derived variable.
func (s *FormulaSet) Eval(vars map[string]float64) (map[string]float64, error) {
	env := make(map[string]any, len(vars)+len(s.formulas))
	for k, v := range vars {
		env[k] = v
	}

	out := make(map[string]float64, len(vars)+len(s.formulas))
	for k, v := range vars {
		out[k] = v
	}

	for _, f := range s.formulas {
		result, err := expr.Run(f.program, env)
		if err != nil {
			return nil, fmt.Errorf("formula %s: %v: %w", f.name, err, ErrFormula)
		}
		value, err := toFloat(result)
		if err != nil {
			return nil, fmt.Errorf("formula %s: %v: %w", f.name, err, ErrFormula)
		}
		env[f.name] = value
		out[f.name] = value
	}

	return out, nil
}

// Names returns the formula names in evaluation order.
func (s *FormulaSet) Names() []string {
	names := make([]string, len(s.formulas))
	for i, f := range s.formulas {
		names[i] = f.name
	}
	return names
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("result is %T, want number", v)
	}
}

// DefaultFormulas returns the derived-variable formulas used when a model
// bundle ships without its own set. Order is load-bearing.
func DefaultFormulas() []Formula {
	return []Formula{
		{"ratio_ingresos_gastos", "ingresos_count / (gastos_count + 1)"},
		{"ratio_aprobaciones_rechazos", "aprobaciones_count / (rechazos_count + 1)"},
		{"tiene_nomina", "nomina_count > 0 ? 1.0 : 0.0"},
		{"tiene_servicios_publicos", "servicios_publicos_count > 0 ? 1.0 : 0.0"},
		{"tiene_salud", "salud_seguros_count > 0 ? 1.0 : 0.0"},
		{"alertas_riesgo", "saldo_bajo_count + mora_count + cobranza_count + rechazos_count"},
		{"nivel_transaccional", "ingresos_count + gastos_count + montos_count"},
		{"diversificacion_financiera", "(nequi_count > 0 ? 1.0 : 0.0) + (bancolombia_count > 0 ? 1.0 : 0.0) + (davivienda_count > 0 ? 1.0 : 0.0) + (otros_bancos_count > 0 ? 1.0 : 0.0) + (billeteras_count > 0 ? 1.0 : 0.0)"},
		{"engagement_score", "otp_count * 2 + nivel_transaccional + diversificacion_financiera * 3"},
		{"estabilidad_laboral", "nomina_count + pensiones_cesantias_count + cooperativas_count"},
		{"obligaciones_fijas", "arriendos_count + servicios_publicos_count + medicina_prepagada_count + gimnasios_count"},
		{"estres_financiero", "casas_empeno_count + saldo_bajo_count + mora_count + cobranza_count + rechazos_count"},
		{"buen_comportamiento_pago", "pago_puntual_count + fidelizacion_count + aprobaciones_count"},
		{"credito_formal", "tarjetas_credito_count + microcreditos_count + credito_grande_count"},
		{"ratio_credito_formal_informal", "credito_formal / (casas_empeno_count + 1)"},
		{"gastos_discrecionales", "viajes_count + restaurantes_count + gimnasios_count + ecommerce_count"},
		{"prevision_financiera", "seguros_varios_count + ahorro_inversion_count + pensiones_cesantias_count + inversiones_count"},
		{"cumplimiento_tributario", "impuesto_count + impuestos_obligaciones_count"},
		{"inclusion_financiera", "diversificacion_financiera + (subsidios_count > 0 ? 1.0 : 0.0) + (cooperativas_count > 0 ? 1.0 : 0.0) + (ahorro_inversion_count > 0 ? 1.0 : 0.0)"},
		{"ratio_obligaciones_ingresos", "obligaciones_fijas / (ingresos_count + nomina_count + 1)"},
		{"score_riesgo", "estres_financiero * 2 - buen_comportamiento_pago * 3 - estabilidad_laboral * 2 + casas_empeno_count * 5"},
		{"estabilidad_emocional", "mensajes_positivos_count - groserias_count - alcohol_count - apuestas_count"},
		{"riesgo_comportamental", "groserias_count + apuestas_count + alcohol_count + horarios_sospechosos_count + prestamos_conocidos_count"},
		{"nivel_socioeconomico", "zona_premium_count + educacion_privada_count + marcas_lujo_count + deportes_premium_count + transporte_particular_count - economia_informal_count - subsidios_count"},
		{"presion_financiera", "prestamos_conocidos_count + emergencia_medica_count + busqueda_empleo_count + economia_informal_count + cancelaciones_count"},
		{"formalidad_financiera", "pospago_vs_prepago + (transporte_particular_count > 0 ? 1.0 : 0.0) + (educacion_privada_count > 0 ? 1.0 : 0.0) - efectivo_count - economia_informal_count"},
		{"score_confiabilidad", "mensajes_positivos_count + pago_puntual_count + fidelizacion_count - groserias_count - cancelaciones_count - horarios_sospechosos_count"},
		{"vulnerabilidad_financiera", "prestamos_conocidos_count + casas_empeno_count + emergencia_medica_count + busqueda_empleo_count + economia_informal_count + ventas_catalogo_count"},
		{"informalidad_total", "economia_informal_count + informalidad_laboral_count + efectivo_count + negociacion_regateo_count + ventas_catalogo_count"},
		{"vulnerabilidad_contextual", "violencia_inseguridad_count + problemas_climaticos_count + actividades_comunitarias_count + comercios_populares_count"},
		{"modernizacion_financiera", "productos_financieros_col_count + internet_conectividad_count + otp_count + billeteras_count - efectivo_count"},
		{"score_riesgo_final", "score_riesgo * 0.3 + riesgo_comportamental * 0.2 + vulnerabilidad_financiera * 0.15 + informalidad_total * 0.1 + presion_financiera * 0.15 + vulnerabilidad_contextual * 0.1 - score_confiabilidad * 0.25 - modernizacion_financiera * 0.15 - nivel_socioeconomico * 0.1"},
	}
}
