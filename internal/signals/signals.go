// Package signals fetches the upstream inputs a risk evaluation needs:
// the credit directory lookup, the user's devices, their SMS inbox, and
// any user metadata. All sources are behind interfaces so evaluations can
// run against postgres, a cache, or in-memory fixtures.
package signals

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for upstream failures. Handlers map these to HTTP statuses.
var (
	// ErrCreditNotFound means the credit_uid does not resolve to a user.
	ErrCreditNotFound = errors.New("credit not found")

	// ErrUpstreamUnavailable means a signal source failed transiently.
	ErrUpstreamUnavailable = errors.New("signal source unavailable")

	// ErrSchemaViolation means an upstream payload was structurally invalid.
	ErrSchemaViolation = errors.New("signal payload violates schema")
)

// SmsRecord is one SMS message pulled from a user's device.
type SmsRecord struct {
	UUIDDevice string    `json:"uuidDevice"`
	Address    string    `json:"address"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// DeviceRecord links a device to a user.
type DeviceRecord struct {
	UserID     string    `json:"userId"`
	UUIDDevice string    `json:"uuidDevice"`
	Platform   string    `json:"platform,omitempty"`
	LinkedAt   time.Time `json:"linkedAt"`
}

// MetadataRecord is one key/value pair of user metadata.
type MetadataRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Bundle is everything fetched for one evaluation.
type Bundle struct {
	UserID   string
	Devices  []DeviceRecord
	Sms      []SmsRecord
	Metadata []MetadataRecord
}

// CreditDirectory resolves a credit identifier to its owning user.
type CreditDirectory interface {
	// ResolveUser returns the user_id for a credit_uid.
	// Returns ErrCreditNotFound if the credit does not exist or carries no user.
	ResolveUser(ctx context.Context, creditUID string) (string, error)
}

// DeviceSource lists the devices linked to a user.
type DeviceSource interface {
	// DevicesByUser returns the user's devices. An empty slice is valid.
	DevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error)
}

// SmsSource lists SMS messages for a set of devices.
type SmsSource interface {
	// SmsByDevices returns messages for the given devices, newest first.
	// An empty slice is valid.
	SmsByDevices(ctx context.Context, uuidDevices []string) ([]SmsRecord, error)
}

// MetadataSource lists metadata for a user.
type MetadataSource interface {
	// MetadataByUser returns the user's metadata records. An empty slice is valid.
	MetadataByUser(ctx context.Context, userID string) ([]MetadataRecord, error)
}
