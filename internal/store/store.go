// Package store provides the shared security store every defense component
// records its state in. All cross-request state (counters, lockouts, CSRF
// records, threat logs) lives here so horizontally scaled instances observe
// the same attacker.
package store

import (
	"context"
	"time"
)

// SecurityStore is the operation surface the defense components depend on.
// Implementations must provide atomic increments and TTL semantics; callers
// never coordinate with in-process locks.
type SecurityStore interface {
	// Incr atomically increments the counter at key and returns the new
	// value. A missing key counts from zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Get returns the value at key, or models.ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// SetEx stores value at key with the given TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key. Zero or negative means
	// the key is absent or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes the given keys.
	Del(ctx context.Context, keys ...string) error

	// Expire sets or refreshes the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ZAdd adds a scored member to the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRangeByScore returns members with scores in [min, max].
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// ZRemRangeByScore removes members with scores in [min, max] and
	// returns how many were removed.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)

	// ZCard returns the cardinality of the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// Keys returns keys matching pattern. Full scans are expensive;
	// reserved for administrative sweeps, never the request path.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}
