package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, opts ...MemoryOption) (*MemoryCache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(append([]MemoryOption{WithMemoryClock(clk.Now)}, opts...)...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc, clk
}

type verdict struct {
	IntentID string `json:"intent_id"`
	Approved bool   `json:"approved"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestCache(t)

	require.NoError(t, mc.Set(ctx, "verdict:a", verdict{IntentID: "a", Approved: true}, time.Hour))

	var got verdict
	require.NoError(t, mc.Get(ctx, "verdict:a", &got))
	assert.Equal(t, verdict{IntentID: "a", Approved: true}, got)

	var s string
	require.NoError(t, mc.Set(ctx, "plain", "text", 0))
	require.NoError(t, mc.Get(ctx, "plain", &s))
	assert.Equal(t, "text", s)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc, clk := newTestCache(t)

	require.NoError(t, mc.Set(ctx, "k", "v", time.Minute))
	clk.Advance(2 * time.Minute)

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheTryLock(t *testing.T) {
	ctx := context.Background()
	mc, clk := newTestCache(t)

	ok, err := mc.TryLock(ctx, "exec:intent:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "exec:intent:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(time.Minute + time.Second)
	ok, err = mc.TryLock(ctx, "exec:intent:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheIncrementAndPattern(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestCache(t)

	for i := 1; i <= 3; i++ {
		n, err := mc.Increment(ctx, "count")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	require.NoError(t, mc.Set(ctx, "verdict:1", "a", 0))
	require.NoError(t, mc.Set(ctx, "verdict:2", "b", 0))
	require.NoError(t, mc.DeleteByPattern(ctx, "verdict:*"))

	vals, err := mc.MGet(ctx, "verdict:1", "verdict:2", "count")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"count": "3"}, vals)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc, clk := newTestCache(t, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clk.Advance(time.Second)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.NoError(t, mc.Get(ctx, "c", &s))
}

func TestLookupReportsMissWithoutError(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestCache(t)

	_, ok, err := Lookup[map[string]float64](ctx, mc, "risk:verdict:absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Set(ctx, "risk:verdict:i1", map[string]float64{"delta": 0.4}, 0))
	v, ok, err := Lookup[map[string]float64](ctx, mc, "risk:verdict:i1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.4, v["delta"], 1e-12)
}
