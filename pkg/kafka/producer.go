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
)

// Producer wraps a Kafka writer and implements bus.Publisher.
type Producer struct {
	writer  *kafka.Writer
	comp    string
	metrics *producerMetrics
}

var _ bus.Publisher = (*Producer)(nil)

// NewProducer creates a new Kafka producer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 10 * time.Millisecond,
		HashByKey:    true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka producer: no brokers configured")
	}

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               bal,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            parseCompression(cfg.Compression),
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		ReadTimeout:            cfg.ReadTimeout,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             int64(cfg.BatchBytes),
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  cfg.Async,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, comp: cfg.Compression, metrics: loadProducerMetrics()}, nil
}

// Publish writes one event. With the Hash balancer, events sharing a key
// land on one partition and keep their order. The trace id in ctx, if any,
// travels as a header.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value any) error {
	v, err := bus.Encode(value)
	if err != nil {
		return err
	}

	now := time.Now()
	msg := kafka.Message{Topic: topic, Key: key, Value: v, Time: now}
	if traceID := bus.TraceID(ctx); traceID != "" {
		msg.Headers = []kafka.Header{{Key: bus.TraceHeader, Value: []byte(traceID)}}
	}

	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.observe(topic, p.comp, len(v), time.Since(now), err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

var compressions = map[string]kafka.Compression{
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// parseCompression falls back to gzip for unknown codecs.
func parseCompression(name string) kafka.Compression {
	if c, ok := compressions[name]; ok {
		return c
	}
	return kafka.Gzip
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	prodMetrics     *producerMetrics
	prodMetricsOnce sync.Once
)

// loadProducerMetrics registers the producer collectors on first use, so
// several producers in one process share them.
func loadProducerMetrics() *producerMetrics {
	prodMetricsOnce.Do(func() {
		prodMetrics = &producerMetrics{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "glm_kafka_producer_messages_total",
				Help: "Messages written to Kafka by topic and result.",
			}, []string{"topic", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "glm_kafka_producer_bytes_total",
				Help: "Payload bytes written to Kafka.",
			}, []string{"topic", "compression"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "glm_kafka_producer_publish_seconds",
				Help:    "Time spent in WriteMessages.",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			}, []string{"topic"}),
		}
	})
	return prodMetrics
}

func (m *producerMetrics) observe(topic, comp string, n int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, result).Inc()
	m.bytes.WithLabelValues(topic, comp).Add(float64(n))
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
}
