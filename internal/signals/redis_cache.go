package signals

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quipu/debitcheck/internal/logging"
	"github.com/quipu/debitcheck/internal/metrics"
)

// DefaultCacheTTL is how long cached signal reads stay fresh.
const DefaultCacheTTL = 5 * time.Minute

// CachedDeviceSource is a redis read-through wrapper around a DeviceSource.
// Cache failures degrade to the inner source, never to an error.
type CachedDeviceSource struct {
	inner DeviceSource
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedDeviceSource wraps inner with a redis cache.
func NewCachedDeviceSource(inner DeviceSource, rdb *redis.Client, ttl time.Duration) *CachedDeviceSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDeviceSource{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedDeviceSource) DevicesByUser(ctx context.Context, userID string) ([]DeviceRecord, error) {
	key := "signals:devices:" + userID

	var cached []DeviceRecord
	if cacheGet(ctx, c.rdb, sourceDevices, key, &cached) {
		return cached, nil
	}

	devices, err := c.inner.DevicesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, c.rdb, key, devices, c.ttl)
	return devices, nil
}

// CachedSmsSource is a redis read-through wrapper around an SmsSource.
type CachedSmsSource struct {
	inner SmsSource
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedSmsSource wraps inner with a redis cache.
func NewCachedSmsSource(inner SmsSource, rdb *redis.Client, ttl time.Duration) *CachedSmsSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSmsSource{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedSmsSource) SmsByDevices(ctx context.Context, uuidDevices []string) ([]SmsRecord, error) {
	if len(uuidDevices) == 0 {
		return nil, nil
	}

	// The device set identifies the cached inbox slice.
	sum := sha256.Sum256([]byte(strings.Join(uuidDevices, "\x00")))
	key := "signals:sms:" + hex.EncodeToString(sum[:16])

	var cached []SmsRecord
	if cacheGet(ctx, c.rdb, sourceSms, key, &cached) {
		return cached, nil
	}

	sms, err := c.inner.SmsByDevices(ctx, uuidDevices)
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, c.rdb, key, sms, c.ttl)
	return sms, nil
}

// cacheGet reads and decodes key into dest. Returns true only on a usable hit.
func cacheGet(ctx context.Context, rdb *redis.Client, source, key string, dest interface{}) bool {
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.L(ctx).Warn("signal cache read failed", "key", key, "error", err)
		}
		metrics.SignalCacheHitsTotal.WithLabelValues(source, "miss").Inc()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		logging.L(ctx).Warn("signal cache entry corrupt", "key", key, "error", err)
		metrics.SignalCacheHitsTotal.WithLabelValues(source, "miss").Inc()
		return false
	}
	metrics.SignalCacheHitsTotal.WithLabelValues(source, "hit").Inc()
	return true
}

// cacheSet stores value under key, best-effort.
func cacheSet(ctx context.Context, rdb *redis.Client, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logging.L(ctx).Warn("signal cache write failed", "key", key, "error", err)
	}
}
