package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"

	"github.com/quipu/debitcheck/internal/circuitbreaker"
	"github.com/quipu/debitcheck/internal/logging"
	"github.com/quipu/debitcheck/internal/metrics"
	"github.com/quipu/debitcheck/internal/retry"
	"github.com/quipu/debitcheck/internal/traces"
)

// Source keys used for circuit breaker state and metrics labels.
const (
	sourceDirectory = "directory"
	sourceDevices   = "devices"
	sourceSms       = "sms"
	sourceMetadata  = "metadata"
)

// DefaultSmsLimit caps the number of SMS records pulled per evaluation.
const DefaultSmsLimit = 5000

// Fetcher resolves a credit to its user and gathers all signals for one
// evaluation. Device and metadata fetches run concurrently; the SMS fetch
// is chained after devices because messages are keyed by device.
type Fetcher struct {
	directory CreditDirectory
	devices   DeviceSource
	sms       SmsSource
	metadata  MetadataSource

	breaker     *circuitbreaker.Breaker
	maxAttempts int
	baseDelay   time.Duration
	smsLimit    int
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithSmsLimit overrides the SMS record cap.
func WithSmsLimit(limit int) FetcherOption {
	return func(f *Fetcher) {
		if limit > 0 {
			f.smsLimit = limit
		}
	}
}

// WithRetry overrides the per-source retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.maxAttempts = maxAttempts
		f.baseDelay = baseDelay
	}
}

// WithBreaker overrides the per-source circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) FetcherOption {
	return func(f *Fetcher) {
		f.breaker = b
	}
}

// NewFetcher creates a Fetcher over the given sources.
func NewFetcher(directory CreditDirectory, devices DeviceSource, sms SmsSource, metadata MetadataSource, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		directory:   directory,
		devices:     devices,
		sms:         sms,
		metadata:    metadata,
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
		smsLimit:    DefaultSmsLimit,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch gathers the signal bundle for a credit. The directory lookup runs
// first; a missing credit is fatal and skips the fan-out entirely.
func (f *Fetcher) Fetch(ctx context.Context, creditUID string) (*Bundle, error) {
	ctx, span := traces.StartSpan(ctx, "signals.Fetch", traces.CreditUID(creditUID))
	defer span.End()

	var userID string
	err := f.callSource(ctx, sourceDirectory, func() error {
		id, err := f.directory.ResolveUser(ctx, creditUID)
		if err != nil {
			return classify(err)
		}
		userID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve user for credit %s: %w", creditUID, err)
	}

	bundle := &Bundle{UserID: userID}

	p := pool.New().WithContext(ctx).WithCancelOnError()

	// Devices, then SMS keyed by those devices.
	p.Go(func(ctx context.Context) error {
		err := f.callSource(ctx, sourceDevices, func() error {
			devs, err := f.devices.DevicesByUser(ctx, userID)
			if err != nil {
				return classify(err)
			}
			bundle.Devices = devs
			return nil
		})
		if err != nil {
			return fmt.Errorf("fetch devices: %w", err)
		}

		uuids := deviceUUIDs(bundle.Devices)
		err = f.callSource(ctx, sourceSms, func() error {
			sms, err := f.sms.SmsByDevices(ctx, uuids)
			if err != nil {
				return classify(err)
			}
			if len(sms) > f.smsLimit {
				sms = sms[:f.smsLimit]
			}
			bundle.Sms = sms
			return nil
		})
		if err != nil {
			return fmt.Errorf("fetch sms: %w", err)
		}
		return nil
	})

	p.Go(func(ctx context.Context) error {
		err := f.callSource(ctx, sourceMetadata, func() error {
			md, err := f.metadata.MetadataByUser(ctx, userID)
			if err != nil {
				return classify(err)
			}
			bundle.Metadata = md
			return nil
		})
		if err != nil {
			return fmt.Errorf("fetch metadata: %w", err)
		}
		return nil
	})

	if err := p.Wait(); err != nil {
		return nil, err
	}

	logging.L(ctx).Debug("signals fetched",
		"credit_uid", creditUID,
		"user_id", userID,
		"devices", len(bundle.Devices),
		"sms", len(bundle.Sms),
		"metadata", len(bundle.Metadata))

	return bundle, nil
}

// callSource runs fn behind the per-source circuit breaker and retry policy,
// recording fetch metrics either way.
func (f *Fetcher) callSource(ctx context.Context, source string, fn func() error) error {
	if !f.breaker.Allow(source) {
		metrics.SignalFetchesTotal.WithLabelValues(source, "rejected").Inc()
		return fmt.Errorf("circuit open for %s: %w", source, ErrUpstreamUnavailable)
	}

	timer := prometheus.NewTimer(metrics.SignalFetchDuration.WithLabelValues(source))
	err := retry.Do(ctx, f.maxAttempts, f.baseDelay, fn)
	timer.ObserveDuration()

	if err != nil {
		f.breaker.RecordFailure(source)
		metrics.SignalFetchesTotal.WithLabelValues(source, "error").Inc()
		return err
	}

	f.breaker.RecordSuccess(source)
	metrics.SignalFetchesTotal.WithLabelValues(source, "ok").Inc()
	return nil
}

// classify marks non-retryable source errors as permanent so retry.Do
// stops immediately. Transient errors pass through and get retried.
func classify(err error) error {
	if errors.Is(err, ErrCreditNotFound) || errors.Is(err, ErrSchemaViolation) {
		return retry.Permanent(err)
	}
	return err
}

func deviceUUIDs(devices []DeviceRecord) []string {
	uuids := make([]string, 0, len(devices))
	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.UUIDDevice == "" || seen[d.UUIDDevice] {
			continue
		}
		seen[d.UUIDDevice] = true
		uuids = append(uuids, d.UUIDDevice)
	}
	return uuids
}
