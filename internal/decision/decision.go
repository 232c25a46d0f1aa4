// Package decision runs the end-to-end evaluation pipeline and owns the
// decision rule: a credit is rejected exactly when the model probability
// reaches the bundle threshold.
package decision

import (
	"time"

	"github.com/quipu/debitcheck/internal/features"
)

// Outcome is the final verdict for a debit check.
type Outcome string

const (
	Aprobado  Outcome = "aprobado"
	Rechazado Outcome = "rechazado"
)

// Decide applies the threshold rule. The boundary is inclusive:
// probability == threshold rejects.
func Decide(probability, threshold float64) Outcome {
	if probability >= threshold {
		return Rechazado
	}
	return Aprobado
}

// Record is the auditable result of one evaluation. Immutable once
// assembled; everything needed to replay the decision is on it.
type Record struct {
	ID               string           `json:"id"`
	CreditUID        string           `json:"credit_uid"`
	UserID           string           `json:"user_id"`
	DeviceCount      int              `json:"device_count"`
	SmsCount         int              `json:"sms_count"`
	FraudProbability float64          `json:"fraud_probability"`
	Decision         Outcome          `json:"decision"`
	Threshold        float64          `json:"threshold"`
	ModelVersion     string           `json:"model_version"`
	FeaturesUsed     *features.Vector `json:"features_used"`
	EvaluatedAt      time.Time        `json:"evaluated_at"`
}
