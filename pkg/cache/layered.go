package cache

import (
	"context"
	"time"
)

// LayeredCache puts a memory L1 in front of Redis. Only Get, Set and the
// deletes touch L1. Locks, counters, bulk operations and existence checks
// are answered by Redis alone, so every replica agrees on them.
type LayeredCache struct {
	*RedisCache
	l1    *MemoryCache
	l1TTL time.Duration
}

var _ Service = (*LayeredCache)(nil)

func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &layeredConfig{l1TTL: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{RedisCache: l2, l1: NewMemoryCache(cfg.memory...), l1TTL: cfg.l1TTL}
}

// l1Expiry never lets L1 outlive the Redis entry.
func (lc *LayeredCache) l1Expiry(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.l1TTL {
		return expiration
	}
	return lc.l1TTL
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if err := lc.RedisCache.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, value, lc.l1Expiry(expiration))
	return nil
}

// Get fills L1 on a Redis hit. The L1 copy keeps the full l1TTL since the
// remaining Redis TTL is not known here.
func (lc *LayeredCache) Get(ctx context.Context, key string, dest any) error {
	if lc.l1.Get(ctx, key, dest) == nil {
		return nil
	}
	var raw []byte
	if err := lc.RedisCache.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, raw, lc.l1TTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.RedisCache.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.l1.DeleteByPattern(ctx, pattern)
	return lc.RedisCache.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	_ = lc.l1.Delete(ctx, key)
	return lc.RedisCache.Expire(ctx, key, expiration)
}

// Close stops the L1 sweeper. The Redis client stays open.
func (lc *LayeredCache) Close() error {
	return lc.l1.Close()
}
