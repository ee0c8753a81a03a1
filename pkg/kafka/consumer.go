package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler = bus.Handler

// groupReader is the part of *kafka.Reader the consumer uses.
type groupReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer is one Kafka consumer group. Messages of a partition always go to
// the same worker, so per-key order survives the worker pool. An offset is
// committed only once its message was handled or written to the DLQ.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	readers  map[string]groupReader
	handlers map[string]MessageHandler
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	lanes    []chan *message
	dlq      messageWriter
	hook     ConsumerHook
}

var _ bus.Subscriber = (*Consumer)(nil)

type message struct {
	topic string
	data  []byte
	km    kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "trading_service",
		StartOffset: kafka.FirstOffset,
		WorkerCount: 4,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		log:      log.With(logger.String("component", "kafka_consumer"), logger.String("group", cfg.GroupID)),
		readers:  make(map[string]groupReader),
		handlers: make(map[string]MessageHandler),
		stopChan: make(chan struct{}),
		lanes:    make([]chan *message, cfg.WorkerCount),
		hook:     TraceHook(),
	}
	for i := range c.lanes {
		c.lanes[i] = make(chan *message, cfg.BufferSize)
	}

	initConsumerMetricsOnce()

	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}, AllowAutoTopicCreation: true}
	}

	return c, nil
}

// RegisterHandler registers a message handler for a specific topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook chains h after the built-in trace hook.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = NewHookChain(TraceHook(), h)
	}
}

// Start creates one reader per registered topic and the worker lanes.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("consumer group %s has no handlers", c.cfg.GroupID)
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: c.cfg.StartOffset,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
		c.log.Info("registered topic", logger.String("topic", topic))
	}

	for i := range c.lanes {
		c.wg.Add(1)
		go c.messageWorker(c.lanes[i])
	}

	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.consumeMessages(topic, reader)
	}

	c.log.Info("kafka consumer started", logger.Int("workers", len(c.lanes)))
	return nil
}

// Stop stops the Kafka consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		close(c.stopChan)
		stopErr = c.waitForWg(ctx)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Error("close reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Error("close dlq writer", logger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer stopped")
		}
	})

	return stopErr
}

func (c *Consumer) waitForWg(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-doneChan:
		return nil
	}
}

func (c *Consumer) consumeMessages(topic string, reader groupReader) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := reader.FetchMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.log.Error("fetch message", logger.String("topic", topic), logger.Error(err))
			}
			continue
		}

		lane := c.lanes[msg.Partition%len(c.lanes)]
		select {
		case lane <- &message{topic: topic, data: msg.Value, km: msg}:
			if consumerQueueDepth != nil {
				consumerQueueDepth.WithLabelValues(topic).Set(float64(len(lane)))
			}
		case <-c.stopChan:
			return
		}
	}
}

func (c *Consumer) messageWorker(lane chan *message) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case msg := <-lane:
			c.process(msg)
		}
	}
}

// process settles one message. A message that neither the handler nor the
// DLQ accepted is retried in rounds and holds its lane, and with it the
// partition, until it settles or the consumer stops. Stopping leaves the
// offset uncommitted so the message is redelivered.
func (c *Consumer) process(msg *message) {
	handler, exists := c.handlers[msg.topic]
	if !exists {
		return
	}
	start := time.Now()
	defer func() {
		if consumerHandleLatency != nil {
			consumerHandleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())
		}
	}()

	for round := 1; ; round++ {
		err := c.handleWithRetry(handler, msg)
		if errors.Is(err, errStopping) {
			return
		}
		if err == nil {
			c.commit(msg)
			return
		}
		c.log.Error("handler failed",
			logger.String("topic", msg.topic),
			logger.Int("round", round),
			logger.Int("attempts", c.cfg.RetryMax+1),
			logger.Error(err),
		)
		if c.deadLetter(msg, err) {
			c.commit(msg)
			return
		}
		c.log.Warn("message held, partition blocked",
			logger.String("topic", msg.topic),
			logger.Int("partition", msg.km.Partition),
			logger.Int64("offset", msg.km.Offset),
		)
		if !c.sleep(c.cfg.BackoffMax) {
			return
		}
	}
}

var errStopping = errors.New("kafka consumer: stopping")

// handleWithRetry runs the handler up to RetryMax+1 times. It returns
// errStopping if the consumer stops during a backoff.
func (c *Consumer) handleWithRetry(handler MessageHandler, msg *message) error {
	for attempt := 1; ; attempt++ {
		var err error
		hctx, hmsg, hdata, berr := c.hook.BeforeHandle(context.Background(), msg.topic, msg.km, msg.data)
		if hctx == nil {
			hctx = context.Background()
		}
		if berr != nil {
			err = berr
		} else {
			err = safeHandle(hctx, handler, hdata)
			c.hook.AfterHandle(hctx, msg.topic, hmsg, hdata, err)
		}
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		c.hook.OnError(hctx, msg.topic, hmsg, hdata, err)
		if !c.sleep(bus.Backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return errStopping
		}
	}
}

// deadLetter reports whether msg was written to the DLQ.
func (c *Consumer) deadLetter(msg *message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	headers := append(append([]kafka.Header(nil), msg.km.Headers...),
		kafka.Header{Key: "source_topic", Value: []byte(msg.topic)},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     msg.km.Key,
		Value:   msg.data,
		Time:    time.Now(),
		Headers: headers,
	})
	if err != nil {
		c.log.Error("write dlq", logger.String("dlq_topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	if consumerDeadLetters != nil {
		consumerDeadLetters.WithLabelValues(msg.topic).Inc()
	}
	return true
}

func (c *Consumer) commit(msg *message) {
	if reader := c.readers[msg.topic]; reader != nil {
		_ = c.commitWithRetry(reader, msg.km, 3)
	}
}

// sleep waits for d and reports false if the consumer stopped first.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopChan:
		return false
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("handler %s: %v", h.Topic(), r)}
		}
	}()
	return h.Handle(ctx, data)
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(reader groupReader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(bus.Backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("commit offset", logger.Int("attempts", max), logger.Error(err))
	return err
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerDeadLetters   *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          = make(chan struct{}, 1)
	consumerRegisterer    prometheus.Registerer
)

// SetConsumerMetricsRegisterer sets a custom Prometheus registerer for consumer metrics (useful for testing).
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetricsOnce() {
	select {
	case consumerOnce <- struct{}{}:
		factory := promauto.With(prometheus.DefaultRegisterer)
		if consumerRegisterer != nil {
			factory = promauto.With(consumerRegisterer)
		}
		consumerQueueDepth = factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "glm_kafka_consumer_queue_depth", Help: "Messages waiting in a consumer lane"},
			[]string{"topic"},
		)
		consumerDeadLetters = factory.NewCounterVec(
			prometheus.CounterOpts{Name: "glm_kafka_consumer_dead_letters_total", Help: "Messages dead-lettered after retries"},
			[]string{"topic"},
		)
		consumerHandleLatency = factory.NewHistogramVec(
			prometheus.HistogramOpts{Name: "glm_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
	default:
	}
}
