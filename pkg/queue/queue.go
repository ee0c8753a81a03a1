// Package queue implements the bus contract on Redis Streams. Each topic is
// one stream; each consumer loop is one consumer group on that stream.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamMode defines the operation mode of a stream bus.
type StreamMode int

const (
	ModeProducerConsumer StreamMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m StreamMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

// StreamConfig contains the configuration for the stream bus.
type StreamConfig struct {
	Group      string        // consumer group name
	Consumer   string        // consumer name within the group
	BatchSize  int64         // entries per XREADGROUP
	Block      time.Duration // XREADGROUP block time
	RetryLimit int           // handler retries before dead-lettering
	RetryMin   time.Duration
	RetryMax   time.Duration
	ClaimIdle  time.Duration // pending entries idle longer than this are reclaimed
	MaxLen     int64         // approximate stream cap, 0 = unbounded
}

func (c *StreamConfig) applyDefaults() {
	if c.Group == "" {
		c.Group = "trading_service"
	}
	if c.Consumer == "" {
		c.Consumer = "consumer-1"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryMin <= 0 {
		c.RetryMin = 100 * time.Millisecond
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = 5 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = time.Minute
	}
}

// Entry is one decoded stream entry.
type Entry struct {
	ID      string
	Key     []byte
	Data    []byte
	TraceID string
	Source  string
}

const (
	fieldKey    = "key"
	fieldData   = "data"
	fieldTrace  = "trace_id"
	fieldSource = "source"
	fieldError  = "error"
)

func entryValues(key, data []byte, traceID string) map[string]interface{} {
	v := map[string]interface{}{
		fieldKey:  string(key),
		fieldData: string(data),
	}
	if traceID != "" {
		v[fieldTrace] = traceID
	}
	return v
}

// DecodeEntry reads an XMessage written by Publish.
func DecodeEntry(msg redis.XMessage) (Entry, error) {
	e := Entry{ID: msg.ID}
	data, ok := msg.Values[fieldData]
	if !ok {
		return e, fmt.Errorf("stream entry %s has no %q field", msg.ID, fieldData)
	}
	e.Data = []byte(asString(data))
	if k, ok := msg.Values[fieldKey]; ok {
		e.Key = []byte(asString(k))
	}
	if t, ok := msg.Values[fieldTrace]; ok {
		e.TraceID = asString(t)
	}
	if s, ok := msg.Values[fieldSource]; ok {
		e.Source = asString(s)
	}
	return e, nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
