package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"commissiond/internal/attribution"
	"commissiond/internal/cohort"
	"commissiond/internal/heat"
)

// ErrCacheMiss is returned by a Cache when the key is absent.
var ErrCacheMiss = errors.New("fetcher: cache miss")

// Cache stores JSON-encoded aggregate payloads.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// RedisOptions configure the Redis cache connection.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get decodes the cached value at key into dest.
func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

// Set encodes value as JSON and stores it with the given ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Cached is a read-through cache in front of an aggregate source. Cache
// failures are logged and fall back to the source.
type Cached struct {
	source Aggregates
	cache  Cache
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewCached wraps source with cache.
func NewCached(source Aggregates, cache Cache, ttl time.Duration, prefix string, logger zerolog.Logger) *Cached {
	return &Cached{
		source: source,
		cache:  cache,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.With().Str("component", "aggregate_cache").Logger(),
	}
}

// FetchPeriodSnapshot implements SnapshotFetcher.
func (c *Cached) FetchPeriodSnapshot(ctx context.Context, period Period) (attribution.PeriodSnapshot, error) {
	key := c.key("snapshot", period.Label)
	return readThrough(ctx, c, key, func(ctx context.Context) (attribution.PeriodSnapshot, error) {
		return c.source.FetchPeriodSnapshot(ctx, period)
	})
}

// FetchCohortRecords implements CohortFetcher.
func (c *Cached) FetchCohortRecords(ctx context.Context, window CohortWindow) ([]cohort.Record, error) {
	return readThrough(ctx, c, c.windowKey("cohorts", window), func(ctx context.Context) ([]cohort.Record, error) {
		return c.source.FetchCohortRecords(ctx, window)
	})
}

// FetchCohortCommissions implements CohortFetcher.
func (c *Cached) FetchCohortCommissions(ctx context.Context, window CohortWindow) ([]cohort.CommissionRecord, error) {
	return readThrough(ctx, c, c.windowKey("ledger", window), func(ctx context.Context) ([]cohort.CommissionRecord, error) {
		return c.source.FetchCohortCommissions(ctx, window)
	})
}

// FetchCarrierStats implements CarrierFetcher.
func (c *Cached) FetchCarrierStats(ctx context.Context, asOf time.Time) ([]attribution.CarrierStats, error) {
	key := c.key("carriers", asOf.UTC().Format(time.RFC3339))
	return readThrough(ctx, c, key, func(ctx context.Context) ([]attribution.CarrierStats, error) {
		return c.source.FetchCarrierStats(ctx, asOf)
	})
}

// FetchVendorSignals implements SignalFetcher.
func (c *Cached) FetchVendorSignals(ctx context.Context, asOf time.Time) ([]heat.VendorSignal, error) {
	key := c.key("vendors", asOf.UTC().Format(time.RFC3339))
	return readThrough(ctx, c, key, func(ctx context.Context) ([]heat.VendorSignal, error) {
		return c.source.FetchVendorSignals(ctx, asOf)
	})
}

// FetchPackSignals implements SignalFetcher.
func (c *Cached) FetchPackSignals(ctx context.Context, asOf time.Time) ([]heat.PackSignal, error) {
	key := c.key("packs", asOf.UTC().Format(time.RFC3339))
	return readThrough(ctx, c, key, func(ctx context.Context) ([]heat.PackSignal, error) {
		return c.source.FetchPackSignals(ctx, asOf)
	})
}

func (c *Cached) windowKey(kind string, window CohortWindow) string {
	return c.key(kind,
		window.Start.Format(periodLayout),
		window.End.Format(periodLayout),
		fmt.Sprint(window.MaxOffsetMonths),
		window.AsOf.Format("2006-01-02"))
}

func (c *Cached) key(kind string, parts ...string) string {
	key := c.prefix + ":" + kind
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func readThrough[T any](ctx context.Context, c *Cached, key string, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		c.logger.Debug().Str("key", key).Msg("cache hit")
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	result, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if err := c.cache.Set(ctx, key, result, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return result, nil
}

var (
	_ Aggregates = (*Cached)(nil)
	_ Cache      = (*RedisCache)(nil)
)
