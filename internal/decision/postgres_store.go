package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quipu/debitcheck/internal/features"
)

// PostgresStore persists decision records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed decision store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *Record) error {
	featuresJSON, err := json.Marshal(rec.FeaturesUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, credit_uid, user_id, device_count, sms_count,
			fraud_probability, decision, threshold, model_version,
			features_used, evaluated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID,
		rec.CreditUID,
		rec.UserID,
		rec.DeviceCount,
		rec.SmsCount,
		rec.FraudProbability,
		string(rec.Decision),
		rec.Threshold,
		rec.ModelVersion,
		featuresJSON,
		rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCredit(ctx context.Context, creditUID string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credit_uid, user_id, device_count, sms_count,
		       fraud_probability, decision, threshold, model_version,
		       features_used, evaluated_at
		FROM decisions
		WHERE credit_uid = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, creditUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		var rec Record
		var featuresJSON []byte

		if err := rows.Scan(
			&rec.ID, &rec.CreditUID, &rec.UserID, &rec.DeviceCount, &rec.SmsCount,
			&rec.FraudProbability, &rec.Decision, &rec.Threshold, &rec.ModelVersion,
			&featuresJSON, &rec.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		vec := &features.Vector{}
		if err := json.Unmarshal(featuresJSON, vec); err != nil {
			return nil, fmt.Errorf("failed to decode features for decision %s: %w", rec.ID, err)
		}
		rec.FeaturesUsed = vec
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return result, nil
}
