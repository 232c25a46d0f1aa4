package signals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore serves all four signal sources from PostgreSQL.
type PostgresStore struct {
	db       *sql.DB
	smsLimit int
}

// NewPostgresStore creates a PostgreSQL-backed signal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, smsLimit: DefaultSmsLimit}
}

// ResolveUser looks the credit up by primary key first, then by the
// secondary uid column (mirrors how credits were historically keyed).
func (s *PostgresStore) ResolveUser(ctx context.Context, creditUID string) (string, error) {
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM credits WHERE credit_uid = $1
	`, creditUID).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `
			SELECT user_id FROM credits WHERE uid = $1 LIMIT 1
		`, creditUID).Scan(&userID)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCreditNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query credit %s: %v: %w", creditUID, err, ErrUpstreamUnavailable)
	}
	if !userID.Valid || userID.String == "" {
		return "", ErrCreditNotFound
	}
	return userID.String, nil
}

func (s *PostgresStore) DevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, uuid_device, COALESCE(platform, ''), linked_at
		FROM user_devices
		WHERE user_id = $1
		ORDER BY linked_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query devices: %v: %w", err, ErrUpstreamUnavailable)
	}
	defer func() { _ = rows.Close() }()

	var result []DeviceRecord
	for rows.Next() {
		var d DeviceRecord
		if err := rows.Scan(&d.UserID, &d.UUIDDevice, &d.Platform, &d.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan device row: %v: %w", err, ErrSchemaViolation)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %v: %w", err, ErrUpstreamUnavailable)
	}
	return result, nil
}

func (s *PostgresStore) SmsByDevices(ctx context.Context, uuidDevices []string) ([]SmsRecord, error) {
	if len(uuidDevices) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid_device, COALESCE(address, ''), COALESCE(body, ''), received_at
		FROM sms_messages
		WHERE uuid_device = ANY($1)
		ORDER BY received_at DESC
		LIMIT $2
	`, pq.Array(uuidDevices), s.smsLimit)
	if err != nil {
		return nil, fmt.Errorf("query sms: %v: %w", err, ErrUpstreamUnavailable)
	}
	defer func() { _ = rows.Close() }()

	var result []SmsRecord
	for rows.Next() {
		var m SmsRecord
		if err := rows.Scan(&m.UUIDDevice, &m.Address, &m.Body, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan sms row: %v: %w", err, ErrSchemaViolation)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sms: %v: %w", err, ErrUpstreamUnavailable)
	}
	return result, nil
}

func (s *PostgresStore) MetadataByUser(ctx context.Context, userID string) ([]MetadataRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, COALESCE(value, '')
		FROM user_metadata
		WHERE user_id = $1
		ORDER BY key
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %v: %w", err, ErrUpstreamUnavailable)
	}
	defer func() { _ = rows.Close() }()

	var result []MetadataRecord
	for rows.Next() {
		var m MetadataRecord
		if err := rows.Scan(&m.Key, &m.Value); err != nil {
			return nil, fmt.Errorf("scan metadata row: %v: %w", err, ErrSchemaViolation)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %v: %w", err, ErrUpstreamUnavailable)
	}
	return result, nil
}
