package bus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus: closed")

// MemoryOption configures MemoryBus consumer groups.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds in-memory bus settings applied to every group.
type MemoryConfig struct {
	Shards     int
	BufferSize int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// WithMemoryShards sets the number of ordered delivery lanes per group.
func WithMemoryShards(n int) MemoryOption {
	return func(c *MemoryConfig) {
		if n > 0 {
			c.Shards = n
		}
	}
}

// WithMemoryBuffer sets the per-lane buffer size.
func WithMemoryBuffer(n int) MemoryOption {
	return func(c *MemoryConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithMemoryRetry configures handler retries and their backoff range.
func WithMemoryRetry(max int, backoffMin, backoffMax time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// DeadLetter is a message whose handler kept failing.
type DeadLetter struct {
	Group string
	Topic string
	Key   []byte
	Data  []byte
	Err   error
}

// MemoryBus is a process-local bus with consumer-group fan-out. Each group
// gets every message; within a group messages with the same key are handled
// in publication order by the same lane. Full lanes block the publisher.
type MemoryBus struct {
	cfg     MemoryConfig
	mu      sync.RWMutex
	groups  map[string]*MemoryConsumer
	closed  bool
	pending atomic.Int64

	dlqMu sync.Mutex
	dlq   []DeadLetter
}

type memoryMessage struct {
	topic   string
	key     []byte
	data    []byte
	traceID string
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	cfg := MemoryConfig{
		Shards:     4,
		BufferSize: 1024,
		RetryMax:   3,
		BackoffMin: 5 * time.Millisecond,
		BackoffMax: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryBus{cfg: cfg, groups: make(map[string]*MemoryConsumer)}
}

// Group returns the consumer group with the given id, creating it on first use.
func (b *MemoryBus) Group(id string) *MemoryConsumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.groups[id]; ok {
		return g
	}
	g := &MemoryConsumer{
		id:       id,
		bus:      b,
		handlers: make(map[string]Handler),
		lanes:    make([]chan memoryMessage, b.cfg.Shards),
		stopCh:   make(chan struct{}),
	}
	for i := range g.lanes {
		g.lanes[i] = make(chan memoryMessage, b.cfg.BufferSize)
	}
	b.groups[id] = g
	return g
}

// Publish delivers the encoded value to every group subscribed to topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*MemoryConsumer, 0, len(b.groups))
	for _, g := range b.groups {
		if g.subscribed(topic) {
			targets = append(targets, g)
		}
	}
	b.mu.RUnlock()

	msg := memoryMessage{topic: topic, key: key, data: data, traceID: TraceID(ctx)}
	for _, g := range targets {
		if err := g.enqueue(ctx, msg); err != nil {
			return fmt.Errorf("publish %s to group %s: %w", topic, g.id, err)
		}
	}
	return nil
}

// Close rejects further publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// WaitIdle blocks until no message is queued or being handled in any group.
func (b *MemoryBus) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if b.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// DeadLetters returns a copy of the dead-lettered messages.
func (b *MemoryBus) DeadLetters() []DeadLetter {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := make([]DeadLetter, len(b.dlq))
	copy(out, b.dlq)
	return out
}

func (b *MemoryBus) deadLetter(d DeadLetter) {
	b.dlqMu.Lock()
	b.dlq = append(b.dlq, d)
	b.dlqMu.Unlock()
}

// MemoryConsumer is one consumer group of a MemoryBus.
type MemoryConsumer struct {
	id       string
	bus      *MemoryBus
	mu       sync.RWMutex
	handlers map[string]Handler
	lanes    []chan memoryMessage
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool
}

var _ Subscriber = (*MemoryConsumer)(nil)
var _ Publisher = (*MemoryBus)(nil)

// RegisterHandler subscribes the group to the handler's topic.
func (c *MemoryConsumer) RegisterHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[h.Topic()]; ok {
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *MemoryConsumer) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.handlers[topic]
	return ok
}

func (c *MemoryConsumer) enqueue(ctx context.Context, msg memoryMessage) error {
	lane := c.lanes[laneFor(msg.key, len(c.lanes))]
	c.bus.pending.Add(1)
	select {
	case lane <- msg:
		return nil
	case <-ctx.Done():
		c.bus.pending.Add(-1)
		return ctx.Err()
	case <-c.stopCh:
		c.bus.pending.Add(-1)
		return ErrClosed
	}
}

func laneFor(key []byte, n int) int {
	if n <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}

// Start launches one worker per lane.
func (c *MemoryConsumer) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("group %s already started", c.id)
	}
	for i := range c.lanes {
		c.wg.Add(1)
		go c.work(c.lanes[i])
	}
	return nil
}

// Stop stops the workers. Queued messages that were not handled stay pending.
func (c *MemoryConsumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for group %s: %w", c.id, ctx.Err())
	case <-done:
		return nil
	}
}

func (c *MemoryConsumer) work(lane chan memoryMessage) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case msg := <-lane:
			c.handle(msg)
			c.bus.pending.Add(-1)
		}
	}
}

func (c *MemoryConsumer) handle(msg memoryMessage) {
	c.mu.RLock()
	h, ok := c.handlers[msg.topic]
	c.mu.RUnlock()
	if !ok {
		return
	}

	ctx := WithTraceID(context.Background(), msg.traceID)
	var err error
	for attempt := 1; ; attempt++ {
		err = safeHandle(ctx, h, msg.data)
		if err == nil || attempt > c.bus.cfg.RetryMax {
			break
		}
		select {
		case <-time.After(Backoff(c.bus.cfg.BackoffMin, c.bus.cfg.BackoffMax, attempt)):
		case <-c.stopCh:
			return
		}
	}
	if err != nil {
		c.bus.deadLetter(DeadLetter{Group: c.id, Topic: msg.topic, Key: msg.key, Data: msg.data, Err: err})
	}
}

func safeHandle(ctx context.Context, h Handler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler for topic %s: %v", h.Topic(), r)
		}
	}()
	return h.Handle(ctx, data)
}
