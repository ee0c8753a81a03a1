package middleware

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domrepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	pkgkafka "github.com/RichedYu/glm-crypto-trading-platform/pkg/kafka"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// Middleware decorates a bus handler.
type Middleware func(bus.Handler) bus.Handler

// Chain applies mws so that the first one is the outermost.
func Chain(h bus.Handler, mws ...Middleware) bus.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type wrapped struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (w wrapped) Topic() string                              { return w.topic }
func (w wrapped) Handle(ctx context.Context, b []byte) error { return w.fn(ctx, b) }

// Instrument records handle latency per group and topic and logs failed
// deliveries with their trace id and error kind. The handler error is
// returned unchanged so the transport can retry it.
func Instrument(group string, m domrepo.Metrics, log *logger.Logger) Middleware {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.String("group", group))
	return func(next bus.Handler) bus.Handler {
		topic := next.Topic()
		op := "handle_" + group + "_" + topic
		return wrapped{topic: topic, fn: func(ctx context.Context, b []byte) error {
			start := time.Now()
			err := next.Handle(ctx, b)
			m.RecordLatency(op, time.Since(start).Seconds())
			if err != nil {
				log.Warn("delivery failed",
					logger.String("topic", topic),
					logger.String("trace_id", bus.TraceID(ctx)),
					logger.String("kind", string(models.Classify(err))),
					logger.Error(err),
				)
			}
			return err
		}}
	}
}

// Recover turns a handler panic into an infrastructure error so one bad
// payload cannot stop a worker lane.
func Recover(m domrepo.Metrics) Middleware {
	return func(next bus.Handler) bus.Handler {
		return wrapped{topic: next.Topic(), fn: func(ctx context.Context, b []byte) (err error) {
			defer func() {
				if r := recover(); r != nil {
					m.RecordError("panic")
					err = &panicError{topic: next.Topic(), value: r}
				}
			}()
			return next.Handle(ctx, b)
		}}
	}
}

type panicError struct {
	topic string
	value interface{}
}

func (e *panicError) Error() string {
	return "panic in " + e.topic + " handler: " + toString(e.value)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	}
	return "unknown"
}

// OutcomeHook is a Kafka consumer hook that counts failed attempts by error
// kind and logs them with partition and offset.
func OutcomeHook(m domrepo.Metrics, log *logger.Logger) pkgkafka.ConsumerHook {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.String("component", "consumer_outcome"))
	return pkgkafka.HookFuncs{
		Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			kind := models.Classify(err)
			m.RecordError(string(kind))
			log.Warn("handler attempt failed",
				logger.String("topic", topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.String("trace_id", bus.TraceID(ctx)),
				logger.String("kind", string(kind)),
				logger.Error(err),
			)
		},
	}
}
