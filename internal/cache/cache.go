// Package cache memoizes search results in Redis. Keys embed a generation
// number that is bumped whenever the index changes, so results computed
// against an older index are never served; they simply expire.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/resilience"
)

const keyPrefix = "fsearch:q:"

// Backend is the key-value store behind the cache. *pkgredis.Client
// implements it; Get must return an error matching pkgredis.Nil for missing
// keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend    Backend
	ttl        time.Duration
	generation atomic.Uint64
	breaker    *resilience.CircuitBreaker
	group      singleflight.Group
	metrics    *metrics.Metrics
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
}

// New returns a cache over backend. A Redis outage trips a circuit breaker
// and searches bypass the cache until it recovers.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	// Seeded from the clock so a restarted process ignores keys written by
	// its predecessor.
	c.generation.Store(uint64(time.Now().UnixNano()))
	c.breaker = resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        10 * time.Second,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(name string, to resilience.State) {
			m.SetBreakerState(name, int(to))
			c.logger.Warn("cache circuit breaker changed state", "breaker", name, "state", to.String())
		},
	})
	return c
}

// GetOrCompute returns the cached result for req or computes it. Concurrent
// misses for the same key share one computation. The bool reports a hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan query.Plan,
	req query.Request,
	compute func() (*query.Result, error),
) (*query.Result, bool, error) {
	key := c.buildKey(plan, req)
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*query.Result), false, nil
}

// Bump moves to a new generation; every key written so far stops matching.
func (c *QueryCache) Bump() {
	c.generation.Add(1)
}

// Invalidate bumps the generation and deletes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	c.Bump()
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) get(ctx context.Context, key string) (*query.Result, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil || data == nil {
		if err != nil {
			c.logger.Debug("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result query.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheResult(true)
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *query.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheResult(false)
}

// buildKey hashes everything that affects the result. Folded rather than the
// term list is used because exact-name ranking looks at the whole query.
func (c *QueryCache) buildKey(plan query.Plan, req query.Request) string {
	raw := fmt.Sprintf("%d|%s|limit=%d|offset=%d|mime=%s|folders=%t",
		c.generation.Load(),
		plan.Folded,
		req.Limit,
		req.Offset,
		strings.ToLower(req.Filters.MimeType),
		req.Filters.FolderOnly,
	)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
