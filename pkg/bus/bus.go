// Package bus defines the transport-neutral publish/subscribe contract used by
// every consumer loop. Kafka, Redis Streams and the in-memory bus implement it.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler handles messages from a specific topic.
type Handler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Publisher publishes JSON-encoded values. Messages sharing a key are
// delivered to a consumer group in publication order.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// Subscriber is one consumer group. Every registered handler receives each
// message of its topic at least once; offsets are acknowledged only after the
// handler returns nil or the message was dead-lettered.
type Subscriber interface {
	RegisterHandler(Handler)
	Start() error
	Stop(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Name string
	Fn   func(context.Context, []byte) error
}

func (h HandlerFunc) Topic() string { return h.Name }

func (h HandlerFunc) Handle(ctx context.Context, b []byte) error { return h.Fn(ctx, b) }

// Encode turns a value into the wire payload. []byte and string pass through.
func Encode(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

type ctxKey string

const traceIDKey ctxKey = "bus_trace_id"

// TraceHeader is the header (or stream field) carrying the trace id.
const TraceHeader = "trace_id"

// WithTraceID stores a correlation id (the intent id) in ctx. Publishers copy
// it onto outgoing messages.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the correlation id stored in ctx, if any.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
