// Package cache is the key/value cache used for cache-aside reads.
package cache

import (
	"context"
	"time"
)

// Store is a byte cache with TTLs and prefix invalidation.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPrefix removes every key starting with prefix and returns how many.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}
