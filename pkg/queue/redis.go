package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// RedisStream is a Redis Streams backed bus. As a publisher it XADDs to
// <prefix>:<topic>; as a subscriber it reads the streams of its handlers in
// one consumer group and XACKs after the handler succeeds or the entry was
// dead-lettered to <prefix>:<topic>:dlq. An entry that reached neither stays
// pending and is reclaimed later.
type RedisStream struct {
	logger    *logger.Logger
	config    StreamConfig
	client    redis.UniversalClient
	handlers  map[string]bus.Handler
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	stopCh    chan struct{}
	mode      StreamMode
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
}

var (
	_ bus.Publisher  = (*RedisStream)(nil)
	_ bus.Subscriber = (*RedisStream)(nil)
)

// RedisStreamOption configures RedisStream.
type RedisStreamOption func(*RedisStream)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisStreamOption {
	return func(r *RedisStream) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// NewRedisStream creates a stream bus.
func NewRedisStream(lgr *logger.Logger, config StreamConfig, client redis.UniversalClient, mode StreamMode, opts ...RedisStreamOption) *RedisStream {
	config.applyDefaults()
	if lgr == nil {
		lgr = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	rs := &RedisStream{
		logger:    lgr.With(logger.String("component", "redis_stream"), logger.String("group", config.Group)),
		config:    config,
		client:    client,
		handlers:  make(map[string]bus.Handler),
		stopCh:    make(chan struct{}),
		mode:      mode,
		ctx:       ctx,
		cancel:    cancel,
		keyPrefix: "glm",
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// NewRedisPublisher creates a publisher-only stream bus.
func NewRedisPublisher(lgr *logger.Logger, client redis.UniversalClient, opts ...RedisStreamOption) *RedisStream {
	return NewRedisStream(lgr, StreamConfig{}, client, ModeProducerOnly, opts...)
}

// NewRedisConsumer creates a consumer-only stream bus for one group.
func NewRedisConsumer(lgr *logger.Logger, config StreamConfig, client redis.UniversalClient, opts ...RedisStreamOption) *RedisStream {
	return NewRedisStream(lgr, config, client, ModeConsumerOnly, opts...)
}

// RegisterHandler subscribes the group to the handler's topic.
func (r *RedisStream) RegisterHandler(h bus.Handler) {
	if r.mode == ModeProducerOnly {
		r.logger.Warn("handler registration ignored in producer-only mode", logger.String("topic", h.Topic()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.Topic()]; exists {
		r.logger.Warn("handler already registered", logger.String("topic", h.Topic()))
		return
	}
	r.handlers[h.Topic()] = h
}

// Publish appends one entry to the topic stream.
func (r *RedisStream) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	if r.mode == ModeConsumerOnly {
		return fmt.Errorf("publish on consumer-only stream bus")
	}
	data, err := bus.Encode(value)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.streamKey(topic),
		Values: entryValues(key, data, bus.TraceID(ctx)),
	}
	if r.config.MaxLen > 0 {
		args.MaxLen = r.config.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// Start creates the consumer groups and launches one reader per topic.
// Entries of one topic are handled sequentially, which keeps per-key order.
func (r *RedisStream) Start() error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("stream bus already running")
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.setStopped()
		return fmt.Errorf("redis ping: %w", err)
	}
	if r.mode == ModeProducerOnly {
		r.logger.Info("redis stream publisher started")
		return nil
	}

	r.mu.RLock()
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	r.mu.RUnlock()

	for _, topic := range topics {
		err := r.client.XGroupCreateMkStream(ctx, r.streamKey(topic), r.config.Group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			r.setStopped()
			return fmt.Errorf("create group %s on %s: %w", r.config.Group, topic, err)
		}
	}
	for _, topic := range topics {
		r.wg.Add(1)
		go r.reader(topic)
	}

	r.logger.Info("redis stream consumer started",
		logger.Int("topics", len(topics)),
		logger.String("mode", r.mode.String()))
	return nil
}

func (r *RedisStream) setStopped() {
	r.mu.Lock()
	r.isRunning = false
	r.mu.Unlock()
}

// Stop gracefully stops readers.
func (r *RedisStream) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	close(r.stopCh)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for stream readers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		r.logger.Info("redis stream bus stopped")
		return nil
	}
}

// Close stops the bus. The redis client is owned by the caller.
func (r *RedisStream) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Stop(ctx)
}

// reader consumes one topic. Pending entries, left by a consumer that died
// or by a failed dead-letter write, are reclaimed on this goroutine between
// reads so a topic is never handled concurrently.
func (r *RedisStream) reader(topic string) {
	defer r.wg.Done()
	stream := r.streamKey(topic)
	var lastClaim time.Time

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		if time.Since(lastClaim) >= r.config.ClaimIdle {
			r.reclaim(topic)
			lastClaim = time.Now()
		}

		res, err := r.client.XReadGroup(r.ctx, &redis.XReadGroupArgs{
			Group:    r.config.Group,
			Consumer: r.config.Consumer,
			Streams:  []string{stream, ">"},
			Count:    r.config.BatchSize,
			Block:    r.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			r.logger.Error("xreadgroup", logger.String("stream", stream), logger.Error(err))
			r.sleep(time.Second)
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				r.process(topic, msg)
			}
		}
	}
}

// reclaim takes over entries pending longer than ClaimIdle and handles them.
func (r *RedisStream) reclaim(topic string) {
	stream := r.streamKey(topic)
	msgs, _, err := r.client.XAutoClaim(r.ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    r.config.Group,
		Consumer: r.config.Consumer,
		MinIdle:  r.config.ClaimIdle,
		Start:    "0-0",
		Count:    r.config.BatchSize,
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("xautoclaim", logger.String("stream", stream), logger.Error(err))
		}
		return
	}
	if len(msgs) > 0 {
		r.logger.Info("reclaimed pending entries", logger.String("topic", topic), logger.Int("count", len(msgs)))
	}
	for _, msg := range msgs {
		r.process(topic, msg)
	}
}

func (r *RedisStream) process(topic string, msg redis.XMessage) {
	r.mu.RLock()
	h, ok := r.handlers[topic]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry, err := DecodeEntry(msg)
	if err == nil {
		ctx := bus.WithTraceID(r.ctx, entry.TraceID)
		for attempt := 1; ; attempt++ {
			err = safeHandle(ctx, h, entry.Data)
			if err == nil || attempt > r.config.RetryLimit || errors.Is(err, context.Canceled) {
				break
			}
			r.sleep(bus.Backoff(r.config.RetryMin, r.config.RetryMax, attempt))
		}
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		r.logger.Error("stream entry failed",
			logger.String("topic", topic),
			logger.String("id", msg.ID),
			logger.Error(err))
		if dlqErr := r.deadLetter(topic, msg, err); dlqErr != nil {
			r.logger.Error("entry left pending",
				logger.String("topic", topic),
				logger.String("id", msg.ID),
				logger.Error(dlqErr))
			return
		}
	}
	if ackErr := r.client.XAck(context.Background(), r.streamKey(topic), r.config.Group, msg.ID).Err(); ackErr != nil {
		r.logger.Error("xack", logger.String("topic", topic), logger.String("id", msg.ID), logger.Error(ackErr))
	}
}

func (r *RedisStream) deadLetter(topic string, msg redis.XMessage, cause error) error {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values[fieldSource] = topic
	values[fieldError] = cause.Error()
	if err := r.client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: r.deadLetterKey(topic),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq %s: %w", topic, err)
	}
	return nil
}

func (r *RedisStream) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-r.stopCh:
	}
}

func safeHandle(ctx context.Context, h bus.Handler, data []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in handler for topic %s: %v", h.Topic(), rec)
		}
	}()
	return h.Handle(ctx, data)
}

func (r *RedisStream) streamKey(topic string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, topic)
}

func (r *RedisStream) deadLetterKey(topic string) string {
	return fmt.Sprintf("%s:%s:dlq", r.keyPrefix, topic)
}
