// Package optimize provides the caching and concurrency helpers the
// scoring pipeline depends on for acceptable latency: cache-aside reads
// keyed by query shape, parallel dashboard aggregation, and paced batch
// processing.
package optimize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/metrics"
)

// QueryCache is a cache-aside wrapper over the shared cache. Values are
// stored as JSON; keys encode the query shape and its parameters,
// separated by ':' (the shape prefix labels the hit/miss counters).
type QueryCache struct {
	cache domain.Cache
}

// NewQueryCache creates a query cache over the given backend.
func NewQueryCache(cache domain.Cache) *QueryCache {
	return &QueryCache{cache: cache}
}

// GetCached returns the cached value for key, or invokes compute,
// stores its result with the given TTL, and returns it. compute is
// invoked at most once per call: a hit never invokes it, a miss invokes
// it exactly once. A corrupt cached payload counts as a miss. Cache
// write failures are logged and do not fail the read.
func GetCached[T any](ctx context.Context, q *QueryCache, accountID, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	shape := shapeOf(key)

	if data, err := q.cache.Get(ctx, accountID, key); err == nil && data != nil {
		var value T
		if err := json.Unmarshal(data, &value); err == nil {
			metrics.QueryCacheHits.WithLabelValues(shape).Inc()
			return value, nil
		}
		slog.Warn("discarding corrupt cache entry", "key", key)
	}

	metrics.QueryCacheMisses.WithLabelValues(shape).Inc()

	start := time.Now()
	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	metrics.QueryComputeDuration.WithLabelValues(shape).Observe(time.Since(start).Seconds())

	if data, err := json.Marshal(value); err == nil {
		if err := q.cache.Set(ctx, accountID, key, data, ttl); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return value, nil
}

// Invalidate drops a cached entry, forcing the next read to recompute.
func (q *QueryCache) Invalidate(ctx context.Context, accountID, key string) error {
	return q.cache.Delete(ctx, accountID, key)
}

func shapeOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
