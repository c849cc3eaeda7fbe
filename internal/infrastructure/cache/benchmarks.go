// Package cache memoizes benchmark snapshots in redis, keyed by the
// deal-store fingerprint. Because a snapshot is a pure function of the
// closed-deal set and as-of date, a fingerprint hit reproduces the exact
// snapshot a fresh aggregation would have produced. Cache failures are never
// fatal: a miss or error just recomputes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/salescope/dealrisk/internal/domain/benchmark"
)

const keyPrefix = "dealrisk:benchmarks:"

// BenchmarkCache stores benchmark snapshots with a TTL.
type BenchmarkCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewBenchmarkCache wraps a redis client.
func NewBenchmarkCache(client redis.Cmdable, ttl time.Duration) *BenchmarkCache {
	return &BenchmarkCache{client: client, ttl: ttl}
}

// Get fetches a snapshot by fingerprint. Any error counts as a miss.
func (c *BenchmarkCache) Get(ctx context.Context, key string) (*benchmark.Set, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Msg("benchmark cache read failed")
		return nil, false
	}

	var set benchmark.Set
	if err := json.Unmarshal(data, &set); err != nil {
		log.Warn().Err(err).Msg("benchmark cache entry corrupt, ignoring")
		return nil, false
	}
	return &set, true
}

// Put stores a snapshot under its fingerprint.
func (c *BenchmarkCache) Put(ctx context.Context, key string, set *benchmark.Set) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal benchmark snapshot: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("store benchmark snapshot: %w", err)
	}
	return nil
}
