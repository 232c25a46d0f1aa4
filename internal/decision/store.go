package decision

import "context"

// Store is the audit trail for decision records.
type Store interface {
	// Record persists a decision record.
	Record(ctx context.Context, rec *Record) error

	// ListByCredit returns the most recent records for a credit, newest first.
	ListByCredit(ctx context.Context, creditUID string, limit int) ([]*Record, error)
}
