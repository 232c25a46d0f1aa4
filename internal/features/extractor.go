// Package features turns a raw signal bundle into the fixed-schema feature
// vector the model scores. Three stages, all pure: keyword extraction over
// SMS bodies and addresses, derived variables from configurable formulas,
// and pairwise ratio expansion plus selection down to the model schema.
package features

import (
	"regexp"
	"strings"

	"github.com/quipu/debitcheck/internal/signals"
)

// counterDef counts messages whose body matches any of the terms, or the
// regex when set. Matching is case-insensitive.
type counterDef struct {
	name  string
	terms []string
	re    *regexp.Regexp
}

// bodyCounters is the keyword catalogue. Each entry counts the number of
// messages (not occurrences) whose body contains any listed term.
var bodyCounters = []counterDef{
	{name: "nequi_count", terms: []string{"nequi"}},
	{name: "bancolombia_count", terms: []string{"bancolombia"}},
	{name: "davivienda_count", terms: []string{"davivienda"}},
	{name: "cotizante_count", terms: []string{"cotizante"}},
	{name: "impuesto_count", terms: []string{"dian", "impuesto"}},
	{name: "prepago_count", terms: []string{"recarga", "prepago"}},
	{name: "nomina_count", terms: []string{"nomina", "proveedor", "salario"}},
	{name: "educacion_count", terms: []string{"escolar", "matricula", "universidad", "colegio"}},
	{name: "servicios_publicos_count", terms: []string{"epm", "codensa", "gas natural", "acueducto"}},
	{name: "salud_seguros_count", terms: []string{"eps", "sura", "sanitas", "compensar"}},
	{name: "ingresos_count", terms: []string{"consignacion", "deposito", "transferencia recibida"}},
	{name: "gastos_count", terms: []string{"compra", "retiro", "pago realizado", "debito"}},
	{name: "saldo_bajo_count", terms: []string{"saldo insuficiente", "sin saldo"}},
	{name: "cobranza_count", terms: []string{"cobranza", "cobro", "juridico", "multa"}},
	{name: "mora_count", terms: []string{"vencido", "mora", "atrasado", "pendiente"}},
	{name: "aprobaciones_count", terms: []string{"preaprobado", "aprobado", "cupo disponible"}},
	{name: "rechazos_count", terms: []string{"rechazado", "negado", "no aprobado"}},
	{name: "montos_count", re: regexp.MustCompile(`(?i)\$[\d.,]+|\b\d{1,3}(?:\.\d{3})*(?:,\d{2})?\s*(?:pesos|cop)`)},
	{name: "otp_count", re: regexp.MustCompile(`(?i)\b(?:codigo|clave|otp|token)\b`)},
	{name: "transporte_count", terms: []string{"transmilenio", "sitp", "taxi", "beat", "uber"}},
	{name: "inversiones_count", terms: []string{"cdt", "inversion", "rentabilidad"}},
	{name: "credito_grande_count", terms: []string{"hipoteca", "credito vehiculo", "leasing"}},
	{name: "pensiones_cesantias_count", terms: []string{"colpensiones", "porvenir", "proteccion"}},
	{name: "arriendos_count", terms: []string{"arriendo", "arrendamiento", "canon"}},
	{name: "cooperativas_count", terms: []string{"cooperativa", "coomeva", "copetran"}},
	{name: "casas_empeno_count", terms: []string{"prenda", "empeño", "gota a gota"}},
	{name: "corresponsales_count", terms: []string{"baloto", "via baloto", "corresponsal"}},
	{name: "subsidios_count", terms: []string{"familias en accion", "jovenes en accion", "subsidio"}},
	{name: "tarjetas_credito_count", terms: []string{"visa", "mastercard", "american express"}},
	{name: "ahorro_inversion_count", terms: []string{"ahorro programado", "cdt virtual"}},
	{name: "pago_puntual_count", terms: []string{"pago exitoso", "pago confirmado"}},
	{name: "fidelizacion_count", terms: []string{"felicitaciones", "premio", "beneficio"}},
	{name: "microcreditos_count", terms: []string{"microcredito", "credito de consumo"}},
	{name: "compras_credito_count", terms: []string{"cuotas sin interes", "financiacion"}},
	{name: "mensajeria_count", terms: []string{"domicilio", "mensajeria", "envio"}},
	{name: "gasolina_peajes_count", terms: []string{"gasolina", "estacion de servicio", "peaje"}},
	{name: "medicina_prepagada_count", terms: []string{"colsanitas", "medisanitas", "colmedica"}},
	{name: "gimnasios_count", terms: []string{"gimnasio", "bodytech", "smartfit"}},
	{name: "viajes_count", terms: []string{"avianca", "latam", "viva air", "despegar"}},
	{name: "seguros_varios_count", terms: []string{"seguro de vida", "soat", "seguro todo riesgo"}},
	{name: "impuestos_obligaciones_count", terms: []string{"predial", "vehiculo", "renta", "retencion"}},
	{name: "restaurantes_count", terms: []string{"restaurante", "cine", "teatro"}},
	{name: "groserias_count", terms: []string{"hp", "hijueputa", "malparido"}},
	{name: "apuestas_count", terms: []string{"apuesta", "betplay", "wplay"}},
	{name: "alcohol_count", terms: []string{"cerveza", "aguardiente", "ron"}},
	{name: "comida_rapida_count", terms: []string{"dominos", "papa johns", "burger king"}},
	{name: "emergencia_medica_count", terms: []string{"emergencia", "urgencia medica"}},
	{name: "economia_informal_count", terms: []string{"rebusque", "camello", "chambita"}},
	{name: "efectivo_count", terms: []string{"efectivo", "cash", "plata en mano"}},
	{name: "ventas_catalogo_count", terms: []string{"yanbal", "avon", "natura"}},
	{name: "familia_count", terms: []string{"hijo", "hija", "bebe", "esposa"}},
	{name: "deportes_premium_count", terms: []string{"golf", "tenis", "equitacion"}},
	{name: "transporte_particular_count", terms: []string{"carro propio", "vehiculo particular"}},
	{name: "educacion_privada_count", terms: []string{"colegio privado", "universidad privada"}},
	{name: "zona_premium_count", terms: []string{"chicó", "rosales", "virrey"}},
	{name: "marcas_lujo_count", terms: []string{"apple", "iphone", "samsung galaxy"}},
	{name: "prestamos_conocidos_count", terms: []string{"prestame", "me prestas", "favor presta"}},
	{name: "busqueda_empleo_count", terms: []string{"vacante", "empleo", "trabajo"}},
	{name: "cancelaciones_count", terms: []string{"cancelar pedido", "devolucion"}},
	{name: "mensajes_positivos_count", terms: []string{"gracias", "agradezco", "excelente servicio"}},
	{name: "horarios_sospechosos_count", re: regexp.MustCompile(`(?i)\b(0[1-4]:[0-5]\d\s*am|madrugada)\b`)},
	{name: "ciudades_principales_count", terms: []string{"bogota", "medellin", "cali"}},
	{name: "productos_financieros_col_count", terms: []string{"ahorro a la mano", "cuenta amiga"}},
	{name: "comercios_populares_count", terms: []string{"tiendas d1", "justo y bueno", "ara"}},
	{name: "informalidad_laboral_count", terms: []string{"vendedor ambulante", "reciclador"}},
	{name: "negociacion_regateo_count", terms: []string{"rebaja", "descuento", "negociar"}},
	{name: "problemas_climaticos_count", terms: []string{"inundacion", "derrumbe"}},
	{name: "actividades_agro_count", terms: []string{"cosecha", "siembra", "ganado"}},
	{name: "internet_conectividad_count", terms: []string{"wifi", "internet", "datos moviles"}},
	{name: "violencia_inseguridad_count", terms: []string{"robo", "atraco", "inseguridad"}},
	{name: "actividades_comunitarias_count", terms: []string{"junta de accion", "reunion vecinos"}},
	{name: "otros_bancos_count", terms: []string{"bbva", "colpatria", "caja social"}},
	{name: "billeteras_count", terms: []string{"daviplata", "movii", "dale"}},
	{name: "ecommerce_count", terms: []string{"mercadolibre", "amazon", "netflix"}},
	{name: "retail_count", terms: []string{"exito", "carulla", "jumbo", "d1"}},
	{name: "fintech_count", terms: []string{"dineroya", "rapicredit"}},
	{name: "telco_count", terms: []string{"claro", "movistar", "tigo"}},
	{name: "geeks_count", terms: []string{"uber", "rappi", "cabify"}},
}

var (
	whatsappRe = regexp.MustCompile(`(?i)whatsapp|wa.me`)
	digitRe    = regexp.MustCompile(`\d`)
)

// Extractor computes raw counter variables from SMS records.
// Stateless and safe for concurrent use.
type Extractor struct{}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract computes the full counter map for the given messages. An empty
// input yields all counters at zero, never an error.
func (e *Extractor) Extract(sms []signals.SmsRecord) map[string]float64 {
	vars := make(map[string]float64, len(bodyCounters)+16)

	vars["message_count"] = float64(len(sms))
	for _, c := range bodyCounters {
		vars[c.name] = 0
	}

	var pospago, prepago float64
	addresses := make(map[string]bool)
	var pishing, email, whatsapp float64

	for _, m := range sms {
		body := strings.ToLower(m.Body)
		for _, c := range bodyCounters {
			if c.matches(body) {
				vars[c.name]++
			}
		}
		if strings.Contains(body, "pospago") {
			pospago++
		}
		if strings.Contains(body, "prepago") {
			prepago++
		}

		if !addresses[m.Address] {
			addresses[m.Address] = true
		}
		if len(digitRe.FindAllString(m.Address, -1)) >= 10 {
			pishing++
		}
		if strings.Contains(m.Address, "@") {
			email++
		}
		if whatsappRe.MatchString(m.Address) {
			whatsapp++
		}
	}

	vars["pospago_vs_prepago"] = pospago - prepago
	vars["address_count"] = float64(len(addresses))
	vars["pishing_count"] = pishing
	vars["email_count"] = email
	vars["whatsapp_count"] = whatsapp

	// Share of the total for every *_count variable.
	var total float64
	counts := make([]string, 0, len(vars))
	for name, v := range vars {
		if strings.HasSuffix(name, "_count") {
			counts = append(counts, name)
			total += v
		}
	}
	vars["total_count"] = total
	for _, name := range counts {
		ratio := strings.TrimSuffix(name, "_count") + "_ratio"
		if total > 0 {
			vars[ratio] = vars[name] / total
		} else {
			vars[ratio] = 0
		}
	}

	return vars
}

func (c counterDef) matches(lowerBody string) bool {
	if c.re != nil {
		return c.re.MatchString(lowerBody)
	}
	for _, t := range c.terms {
		if strings.Contains(lowerBody, t) {
			return true
		}
	}
	return false
}
