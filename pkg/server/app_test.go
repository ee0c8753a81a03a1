package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
)

type failingSub struct{ bus.Subscriber }

func (failingSub) Start() error { return errors.New("broker unreachable") }

func TestAppLifecycle(t *testing.T) {
	b := bus.NewMemoryBus()
	var mu sync.Mutex
	var got []string
	g := b.Group("audit")
	g.RegisterHandler(bus.HandlerFunc{Name: "portfolio.risk", Fn: func(_ context.Context, data []byte) error {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
		return nil
	}})

	var runs atomic.Int32
	job := Job{Name: "risk_broadcast", Interval: time.Hour, RunAtStart: true, Run: func(ctx context.Context) {
		runs.Add(1)
		_ = b.Publish(ctx, "portfolio.risk", nil, map[string]int{"sequence": 1})
	}}

	var order []string
	closers := []Closer{
		{Name: "audit", Close: func() error { order = append(order, "audit"); return nil }},
		{Name: "publisher", Close: func() error { order = append(order, "publisher"); return errors.New("already closed") }},
	}

	app := New(nil, []Group{{Name: "audit", Subscriber: g}}, []Job{job}, nil, nil, closers, time.Second)
	require.NoError(t, app.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.WaitIdle(ctx))
	assert.Equal(t, int32(1), runs.Load())
	mu.Lock()
	assert.Equal(t, []string{`{"sequence":1}`}, got)
	mu.Unlock()

	err := app.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher: already closed")
	assert.Equal(t, []string{"audit", "publisher"}, order)
}

func TestAppStartFailureStopsStartedGroups(t *testing.T) {
	b := bus.NewMemoryBus()
	ok := b.Group("strategy")
	app := New(nil, []Group{
		{Name: "strategy", Subscriber: ok},
		{Name: "risk", Subscriber: failingSub{}},
	}, nil, nil, nil, nil, time.Second)

	err := app.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start group risk")
	assert.Len(t, app.started, 1)
	require.NoError(t, app.Shutdown(context.Background()))
	assert.Empty(t, app.started)
}
