package store

import (
	"context"
	"time"
)

// Store abstracts the shared key-value store that holds queue coordination
// state across worker instances. All operations are remote calls; errors are
// propagated to the caller as-is, never retried at this layer.
//
// Every key is prefixed with the store's configured key prefix before
// transmission. Higher layers never see the prefix.
//
// Implementations: Redis (production), Postgres (deployments without Redis),
// in-memory (local dev / tests with multiple queue instances in one process).
type Store interface {
	// Get returns the value stored under key, or nil if the key is absent
	// (never written, expired, or deleted).
	Get(ctx context.Context, key string) ([]byte, error)

	// MGet returns the values for the given keys in one round trip.
	// The result has one entry per key, nil for absent keys.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// SetWithTTL writes value under key. With ttl > 0 the key self-destructs
	// after ttl; with ttl == 0 the key never expires.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports how many keys were actually removed
	// (0 or 1). Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) (int64, error)

	// IncrBy atomically adds n to the integer stored under key, creating it
	// as n if absent, and returns the new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// DecrByFloor atomically subtracts n from the integer stored under key,
	// flooring the result at 0, and returns the new value. An absent key
	// counts as 0.
	DecrByFloor(ctx context.Context, key string, n int64) (int64, error)

	// Close releases the underlying connection. Persisted state is kept.
	Close() error
}
