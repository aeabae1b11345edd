package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bastionsec/bastion/internal/config"
	"github.com/bastionsec/bastion/internal/models"
)

// RedisStore implements SecurityStore on a Redis-protocol server. Every
// call is bounded by the configured operation timeout so a slow store
// cannot stall the authentication path, and every transport failure maps
// to models.ErrSecurityStoreUnavailable for the caller's fail-open or
// fail-closed policy.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
	prefix    string
}

// NewRedisStore creates a store client from configuration. Connectivity is
// verified lazily; call Ping at startup for an eager check.
func NewRedisStore(cfg config.StoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:    client,
		opTimeout: cfg.OpTimeout,
		prefix:    cfg.KeyPrefix,
	}
}

// Close releases the underlying connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func storeErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", models.ErrSecurityStoreUnavailable, op, key, err)
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, storeErr("incr", key, err)
	}
	return n, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", storeErr("get", key, err)
	}
	return val, nil
}

func (s *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.SetEx(ctx, s.key(key), value, ttl).Err(); err != nil {
		return storeErr("setex", key, err)
	}
	return nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	ttl, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, storeErr("ttl", key, err)
	}
	// go-redis reports -1 (no expiry) and -2 (missing key) as negative
	// durations; both collapse to zero for callers.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return storeErr("del", keys[0], err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return storeErr("expire", key, err)
	}
	return nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.ZAdd(ctx, s.key(key), redis.Z{Score: score, Member: member}).Err(); err != nil {
		return storeErr("zadd", key, err)
	}
	return nil
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	members, err := s.client.ZRangeByScore(ctx, s.key(key), &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, storeErr("zrangebyscore", key, err)
	}
	return members, nil
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	removed, err := s.client.ZRemRangeByScore(ctx, s.key(key), formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, storeErr("zremrangebyscore", key, err)
	}
	return removed, nil
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.client.ZCard(ctx, s.key(key)).Result()
	if err != nil {
		return 0, storeErr("zcard", key, err)
	}
	return n, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	keys, err := s.client.Keys(ctx, s.key(pattern)).Result()
	if err != nil {
		return nil, storeErr("keys", pattern, err)
	}
	// Strip the store prefix so callers see the same namespace they write.
	if s.prefix != "" {
		trimmed := make([]string, len(keys))
		for i, k := range keys {
			trimmed[i] = strings.TrimPrefix(k, s.prefix+":")
		}
		return trimmed, nil
	}
	return keys, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", "", err)
	}
	return nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
