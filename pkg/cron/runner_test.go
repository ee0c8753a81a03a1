package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerRunsAndStops(t *testing.T) {
	r := New(nil)
	var runs atomic.Int32
	require.NoError(t, r.Every("tick", time.Second, func(ctx context.Context) {
		runs.Add(1)
	}))
	r.Start()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
}

func TestRunnerRejectsBadSchedules(t *testing.T) {
	r := New(nil)
	assert.Error(t, r.Every("zero", 0, func(context.Context) {}))
	assert.Error(t, r.Add("bad", "not a spec", func(context.Context) {}))
}

func TestStopCancelsJobContext(t *testing.T) {
	r := New(nil)
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	require.NoError(t, r.Every("block", time.Second, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
	}))
	r.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	assert.True(t, cancelled.Load())
}
