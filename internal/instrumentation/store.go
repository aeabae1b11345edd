package instrumentation

import (
	"context"
	"time"

	"github.com/bastionsec/bastion/internal/store"
)

// InstrumentedStore wraps a SecurityStore and times every operation.
// Latency spikes here are the earliest signal that the defenses are
// about to enter degraded mode.
type InstrumentedStore struct {
	inner   store.SecurityStore
	metrics *Metrics
}

// WrapStore decorates a security store with operation timing
func WrapStore(inner store.SecurityStore, metrics *Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, metrics: metrics}
}

func (s *InstrumentedStore) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.RecordStoreOperation(ctx, op, float64(time.Since(start).Microseconds())/1000.0, err)
}

func (s *InstrumentedStore) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.inner.Incr(ctx, key)
	s.observe(ctx, "incr", start, err)
	return n, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	v, err := s.inner.Get(ctx, key)
	s.observe(ctx, "get", start, err)
	return v, err
}

func (s *InstrumentedStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := s.inner.SetEx(ctx, key, value, ttl)
	s.observe(ctx, "setex", start, err)
	return err
}

func (s *InstrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	start := time.Now()
	d, err := s.inner.TTL(ctx, key)
	s.observe(ctx, "ttl", start, err)
	return d, err
}

func (s *InstrumentedStore) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := s.inner.Del(ctx, keys...)
	s.observe(ctx, "del", start, err)
	return err
}

func (s *InstrumentedStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := s.inner.Expire(ctx, key, ttl)
	s.observe(ctx, "expire", start, err)
	return err
}

func (s *InstrumentedStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()
	err := s.inner.ZAdd(ctx, key, score, member)
	s.observe(ctx, "zadd", start, err)
	return err
}

func (s *InstrumentedStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	start := time.Now()
	members, err := s.inner.ZRangeByScore(ctx, key, min, max)
	s.observe(ctx, "zrangebyscore", start, err)
	return members, err
}

func (s *InstrumentedStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	start := time.Now()
	n, err := s.inner.ZRemRangeByScore(ctx, key, min, max)
	s.observe(ctx, "zremrangebyscore", start, err)
	return n, err
}

func (s *InstrumentedStore) ZCard(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.inner.ZCard(ctx, key)
	s.observe(ctx, "zcard", start, err)
	return n, err
}

func (s *InstrumentedStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	keys, err := s.inner.Keys(ctx, pattern)
	s.observe(ctx, "keys", start, err)
	return keys, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.observe(ctx, "ping", start, err)
	return err
}
