package core

import (
	"context"
	"time"
)

// Cache[T] is a key-value cache for registry lookups.
// T is the cached value type (e.g. models.Client).
type Cache[T any] interface {
	// Get returns ErrCacheMiss from the cache package when the key is absent or expired.
	Get(ctx context.Context, key string) (T, error)

	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Delete invalidates a key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error

	Health(ctx context.Context) error

	// GetWithFetch implements cache-aside: on a miss fetchFunc runs and
	// its result is stored.
	GetWithFetch(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fetchFunc func(ctx context.Context, key string) (T, error),
	) (T, error)
}
