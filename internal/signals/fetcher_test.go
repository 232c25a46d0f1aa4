package signals

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource implements all four interfaces with programmable behavior.
type fakeSource struct {
	userID   string
	devices  []DeviceRecord
	sms      []SmsRecord
	metadata []MetadataRecord

	resolveErr  error
	devicesErr  error
	smsErr      error
	metadataErr error

	resolveCalls atomic.Int32
	smsCalls     atomic.Int32
	// failSmsTimes makes the first N sms calls fail transiently.
	failSmsTimes int32
}

func (f *fakeSource) ResolveUser(ctx context.Context, creditUID string) (string, error) {
	f.resolveCalls.Add(1)
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.userID, nil
}

func (f *fakeSource) DevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return f.devices, nil
}

func (f *fakeSource) SmsByDevices(ctx context.Context, uuidDevices []string) ([]SmsRecord, error) {
	n := f.smsCalls.Add(1)
	if f.smsErr != nil {
		return nil, f.smsErr
	}
	if n <= f.failSmsTimes {
		return nil, fmt.Errorf("transient: %w", ErrUpstreamUnavailable)
	}
	return f.sms, nil
}

func (f *fakeSource) MetadataByUser(ctx context.Context, userID string) ([]MetadataRecord, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return f.metadata, nil
}

func newTestFetcher(src *fakeSource, opts ...FetcherOption) *Fetcher {
	base := []FetcherOption{WithRetry(3, time.Millisecond)}
	return NewFetcher(src, src, src, src, append(base, opts...)...)
}

func TestFetch_HappyPath(t *testing.T) {
	src := &fakeSource{
		userID: "user-1",
		devices: []DeviceRecord{
			{UserID: "user-1", UUIDDevice: "dev-a"},
			{UserID: "user-1", UUIDDevice: "dev-b"},
		},
		sms: []SmsRecord{
			{UUIDDevice: "dev-a", Body: "compra aprobada"},
			{UUIDDevice: "dev-b", Body: "recarga exitosa"},
		},
		metadata: []MetadataRecord{{Key: "segment", Value: "retail"}},
	}

	bundle, err := newTestFetcher(src).Fetch(context.Background(), "credit-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if bundle.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", bundle.UserID)
	}
	if len(bundle.Devices) != 2 {
		t.Errorf("expected 2 devices, got %d", len(bundle.Devices))
	}
	if len(bundle.Sms) != 2 {
		t.Errorf("expected 2 sms, got %d", len(bundle.Sms))
	}
	if len(bundle.Metadata) != 1 {
		t.Errorf("expected 1 metadata record, got %d", len(bundle.Metadata))
	}
}

func TestFetch_CreditNotFound_NoRetry(t *testing.T) {
	src := &fakeSource{resolveErr: ErrCreditNotFound}

	_, err := newTestFetcher(src).Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrCreditNotFound) {
		t.Fatalf("expected ErrCreditNotFound, got %v", err)
	}
	if calls := src.resolveCalls.Load(); calls != 1 {
		t.Errorf("expected 1 resolve call (no retry on not-found), got %d", calls)
	}
}

func TestFetch_TransientSmsFailure_Retried(t *testing.T) {
	src := &fakeSource{
		userID:       "user-1",
		devices:      []DeviceRecord{{UserID: "user-1", UUIDDevice: "dev-a"}},
		sms:          []SmsRecord{{UUIDDevice: "dev-a", Body: "hola"}},
		failSmsTimes: 2,
	}

	bundle, err := newTestFetcher(src).Fetch(context.Background(), "credit-1")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(bundle.Sms) != 1 {
		t.Errorf("expected 1 sms after retry, got %d", len(bundle.Sms))
	}
	if calls := src.smsCalls.Load(); calls != 3 {
		t.Errorf("expected 3 sms calls (2 failures + success), got %d", calls)
	}
}

func TestFetch_PersistentUpstreamFailure(t *testing.T) {
	src := &fakeSource{
		userID:      "user-1",
		metadataErr: fmt.Errorf("dynamo down: %w", ErrUpstreamUnavailable),
	}

	_, err := newTestFetcher(src).Fetch(context.Background(), "credit-1")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetch_SchemaViolation_NotRetried(t *testing.T) {
	src := &fakeSource{
		userID: "user-1",
		smsErr: fmt.Errorf("bad row: %w", ErrSchemaViolation),
	}

	_, err := newTestFetcher(src).Fetch(context.Background(), "credit-1")
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
	if calls := src.smsCalls.Load(); calls != 1 {
		t.Errorf("expected 1 sms call (schema violations are permanent), got %d", calls)
	}
}

func TestFetch_ZeroDevices_IsValid(t *testing.T) {
	src := &fakeSource{userID: "user-1"}

	bundle, err := newTestFetcher(src).Fetch(context.Background(), "credit-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(bundle.Devices) != 0 || len(bundle.Sms) != 0 {
		t.Errorf("expected empty devices and sms, got %d/%d", len(bundle.Devices), len(bundle.Sms))
	}
}

func TestFetch_SmsCapApplied(t *testing.T) {
	sms := make([]SmsRecord, 10)
	for i := range sms {
		sms[i] = SmsRecord{UUIDDevice: "dev-a", Body: "msg"}
	}
	src := &fakeSource{
		userID:  "user-1",
		devices: []DeviceRecord{{UserID: "user-1", UUIDDevice: "dev-a"}},
		sms:     sms,
	}

	bundle, err := newTestFetcher(src, WithSmsLimit(5)).Fetch(context.Background(), "credit-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(bundle.Sms) != 5 {
		t.Errorf("expected sms capped at 5, got %d", len(bundle.Sms))
	}
}

func TestDeviceUUIDs_Deduplicates(t *testing.T) {
	devices := []DeviceRecord{
		{UUIDDevice: "dev-a"},
		{UUIDDevice: "dev-a"},
		{UUIDDevice: ""},
		{UUIDDevice: "dev-b"},
	}
	uuids := deviceUUIDs(devices)
	if len(uuids) != 2 {
		t.Fatalf("expected 2 unique uuids, got %v", uuids)
	}
	if uuids[0] != "dev-a" || uuids[1] != "dev-b" {
		t.Errorf("unexpected order: %v", uuids)
	}
}
