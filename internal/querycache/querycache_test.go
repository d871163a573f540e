package querycache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deltasearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/resilience"
)

var errMissing = errors.New("missing")

type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failing bool
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return "", errors.New("connection refused")
	}
	v, ok := s.data[key]
	if !ok {
		return "", errMissing
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("connection refused")
	}
	s.data[key] = string(value)
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func isMissing(err error) bool { return errors.Is(err, errMissing) }

func newCache(store Store, opts ...Option) *Cache {
	return New(store, isMissing, time.Minute, append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func TestGetOrComputeCachesResults(t *testing.T) {
	store := newMemStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := newCache(store, WithMetrics(m))
	want := []query.Result{{DocID: 2, Score: 2}, {DocID: 0, Score: 1}}

	calls := 0
	compute := func() ([]query.Result, error) {
		calls++
		return want, nil
	}
	got, hit, err := c.GetOrCompute(context.Background(), "g1.d3", "cheap car", 5, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, want, got)

	got, hit, err = c.GetOrCompute(context.Background(), "g1.d3", "Cheap  CAR", 5, compute)
	require.NoError(t, err)
	assert.True(t, hit, "case and spacing are normalised")
	assert.Equal(t, want, got)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryCacheHitsTotal))
	for _, ttl := range store.ttls {
		assert.Equal(t, time.Minute, ttl)
	}
}

func TestKeyDependsOnVersionLimitAndOrder(t *testing.T) {
	base := buildKey("g1.d3", "cheap car", 5)
	assert.NotEqual(t, base, buildKey("g1.d4", "cheap car", 5))
	assert.NotEqual(t, base, buildKey("g2.d3", "cheap car", 5))
	assert.NotEqual(t, base, buildKey("g1.d3", "cheap car", 10))
	assert.NotEqual(t, base, buildKey("g1.d3", "cheap car car", 5))
	assert.Equal(t, base, buildKey("g1.d3", "the cheap car", 5))
	assert.True(t, strings.HasPrefix(base, keyPrefix))
}

func TestEmptyResultsAreCached(t *testing.T) {
	c := newCache(newMemStore())
	c.Set(context.Background(), "v", "zeppelin", 5, nil)
	got, ok := c.Get(context.Background(), "v", "zeppelin", 5)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestStoreFailureFallsThroughToCompute(t *testing.T) {
	store := newMemStore()
	store.failing = true
	c := newCache(store)
	want := []query.Result{{DocID: 1, Score: 1}}
	for i := 0; i < 10; i++ {
		got, hit, err := c.GetOrCompute(context.Background(), "v", "car", 5, func() ([]query.Result, error) {
			return want, nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, want, got)
	}
}

func TestMissesDoNotTripBreaker(t *testing.T) {
	store := newMemStore()
	c := newCache(store)
	for i := 0; i < 20; i++ {
		_, ok := c.Get(context.Background(), "v", fmt.Sprintf("query %d", i), 5)
		assert.False(t, ok)
	}
	assert.Equal(t, resilience.StateClosed, c.breaker.GetState())

	store.failing = true
	for i := 0; i < 5; i++ {
		c.Get(context.Background(), "v", "car", 5)
	}
	assert.Equal(t, resilience.StateOpen, c.breaker.GetState())
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := newCache(newMemStore())
	boom := errors.New("engine closed")
	_, _, err := c.GetOrCompute(context.Background(), "v", "car", 5, func() ([]query.Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), "v", "car", 5)
	assert.False(t, ok, "failures are not cached")
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	c := newCache(newMemStore())
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() ([]query.Result, error) {
		calls.Add(1)
		<-release
		return []query.Result{{DocID: 0, Score: 1}}, nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "v", "car", 5, compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c := newCache(store)
	c.Set(context.Background(), "v", "car", 5, []query.Result{{DocID: 0, Score: 1}})
	store.data["other:key"] = "x"

	require.NoError(t, c.Invalidate(context.Background()))
	_, ok := c.Get(context.Background(), "v", "car", 5)
	assert.False(t, ok)
	assert.Contains(t, store.data, "other:key")
}
