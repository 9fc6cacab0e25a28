// Package cache memoizes metrics source queries.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/telemetry"
)

// Config holds query cache configuration
type Config struct {
	TTL time.Duration
	// MaxCost bounds the cache size; an instant result costs 1 and a range
	// result one per sample.
	MaxCost int64
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		TTL:     time.Minute,
		MaxCost: 1 << 20,
	}
}

// Source wraps an eval.Source and caches successful results, keyed by the
// expression and its time parameters. Callers align timestamps so repeated
// requests hit the same keys. Errors are never cached.
type Source struct {
	next  eval.Source
	cache *ristretto.Cache
	ttl   time.Duration
}

// New creates a caching source in front of next
func New(next eval.Source, config Config) (*Source, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.MaxCost * 10,
		MaxCost:     config.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Source{next: next, cache: c, ttl: config.TTL}, nil
}

// Close releases the cache
func (s *Source) Close() {
	s.cache.Close()
}

// QueryInstant implements eval.Source
func (s *Source) QueryInstant(ctx context.Context, expr string, ts time.Time) (float64, error) {
	key := hashKey("instant", expr, ts.UnixMilli())
	if v, ok := s.cache.Get(key); ok {
		telemetry.CacheLookups.WithLabelValues("hit").Inc()
		return v.(float64), nil
	}
	telemetry.CacheLookups.WithLabelValues("miss").Inc()

	v, err := s.next.QueryInstant(ctx, expr, ts)
	if err != nil {
		return 0, err
	}
	s.cache.SetWithTTL(key, v, 1, s.ttl)
	return v, nil
}

// Query implements eval.Source
func (s *Source) Query(ctx context.Context, expr string, r eval.Range) (eval.Matrix, error) {
	key := hashKey("range", expr, r.Start.UnixMilli(), r.End.UnixMilli(), r.Step.Milliseconds())
	if v, ok := s.cache.Get(key); ok {
		telemetry.CacheLookups.WithLabelValues("hit").Inc()
		return v.(eval.Matrix), nil
	}
	telemetry.CacheLookups.WithLabelValues("miss").Inc()

	m, err := s.next.Query(ctx, expr, r)
	if err != nil {
		return nil, err
	}

	var cost int64 = 1
	for _, series := range m {
		cost += int64(len(series.Samples))
	}
	s.cache.SetWithTTL(key, m, cost, s.ttl)
	return m, nil
}

// Wait blocks until pending writes are visible to Get.
func (s *Source) Wait() {
	s.cache.Wait()
}

func hashKey(kind, expr string, params ...int64) uint64 {
	xxh := xxhash.New()
	_, _ = xxh.WriteString(kind)
	_, _ = xxh.WriteString("\x00")
	_, _ = xxh.WriteString(expr)
	for _, p := range params {
		_, _ = xxh.WriteString("\x00")
		_, _ = xxh.WriteString(strconv.FormatInt(p, 10))
	}
	return xxh.Sum64()
}
