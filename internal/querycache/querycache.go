// Package querycache memoises search results in Redis. Keys include the
// engine version, so a document add or a compaction makes earlier entries
// unreachable without an explicit flush.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/resilience"
)

const keyPrefix = "search:"

const opTimeout = 250 * time.Millisecond

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type Cache struct {
	store   Store
	isMiss  func(error) bool
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New wraps store. isMiss reports whether a Get error means the key is
// absent rather than that the store failed.
func New(store Store, isMiss func(error) bool, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		isMiss: isMiss,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Absent keys and callers giving up are not store failures.
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		IsFailure: func(err error) bool {
			return err != nil && !isMiss(err) && !errors.Is(err, context.Canceled)
		},
	})
	return c
}

// Get returns the cached results for text at the given limit and engine
// version. Store failures count as misses.
func (c *Cache) Get(ctx context.Context, version, text string, limit int) ([]query.Result, bool) {
	key := buildKey(version, text, limit)
	var data string
	err := c.breaker.Execute(func() error {
		getCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		var err error
		data, err = c.store.Get(getCtx, key)
		return err
	})
	switch {
	case err == nil:
	case c.isMiss(err):
		c.miss()
		return nil, false
	default:
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	var results []query.Result
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.QueryCacheLookup(true)
	c.logger.Debug("cache hit", "query", text, "key", key)
	return results, true
}

func (c *Cache) Set(ctx context.Context, version, text string, limit int, results []query.Result) {
	key := buildKey(version, text, limit)
	if results == nil {
		results = []query.Result{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, opTimeout, "cache-set", func(ctx context.Context) error {
			return c.store.Set(ctx, key, data, c.ttl)
		})
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute serves from the cache or runs compute once per key across
// concurrent callers, caching what it returns. The bool reports a cache hit.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	version, text string,
	limit int,
	compute func() ([]query.Result, error),
) ([]query.Result, bool, error) {
	if results, ok := c.Get(ctx, version, text, limit); ok {
		return results, true, nil
	}
	key := buildKey(version, text, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		results, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, version, text, limit, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]query.Result), false, nil
}

// Invalidate deletes every cached search.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) miss() {
	c.misses.Add(1)
	c.metrics.QueryCacheLookup(false)
}

func buildKey(version, text string, limit int) string {
	raw := fmt.Sprintf("%s|%s|limit=%d", version, normalizeQuery(text), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizeQuery keeps term order and repetition, both of which affect
// scores, but drops case and stopwords.
func normalizeQuery(text string) string {
	return strings.Join(lexicon.Tokenize(text), " ")
}
