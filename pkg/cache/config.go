package cache

import "time"

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-process cache. The least recently used entry
// is evicted once MaxSize is reached; expired entries are swept every
// CleanupInterval.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
	Clock           func() time.Time
}

func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

// WithMemoryClock replaces time.Now for expiry checks.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) { c.Clock = now }
}

// LayeredOption configures a LayeredCache.
type LayeredOption func(*layeredConfig)

type layeredConfig struct {
	memory []MemoryOption
	l1TTL  time.Duration
}

// WithLayeredMemory passes options to the L1 memory cache.
func WithLayeredMemory(opts ...MemoryOption) LayeredOption {
	return func(c *layeredConfig) { c.memory = append(c.memory, opts...) }
}

// WithLayeredMemoryTTL caps how long L1 keeps a value read from Redis.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *layeredConfig) { c.l1TTL = ttl }
}
