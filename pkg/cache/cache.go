// Package cache provides the key/value store used for verdict memoisation
// and idempotency claims. Values are JSON encoded.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Service is implemented by the memory, Redis and layered caches.
type Service interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	MSet(ctx context.Context, values map[string]any, expiration time.Duration) error
	MGet(ctx context.Context, keys ...string) (map[string]string, error)

	// TryLock sets key only if it is absent. A held lock expires after ttl.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Lookup reads key into a T. A miss is reported as ok=false with a nil
// error.
func Lookup[T any](ctx context.Context, c Service, key string) (v T, ok bool, err error) {
	err = c.Get(ctx, key, &v)
	switch {
	case errors.Is(err, ErrCacheMiss):
		var zero T
		return zero, false, nil
	case err != nil:
		var zero T
		return zero, false, err
	}
	return v, true, nil
}
