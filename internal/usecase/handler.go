package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

func utcNow() time.Time { return time.Now().UTC() }

// decodeEvent unmarshals b into T. A malformed payload is an invalid event,
// not a handler failure.
func decodeEvent[T any](b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, models.InvalidEventf("decode: %v", err)
	}
	return v, nil
}

// dropInvalid logs and counts an event that can never be handled and tells
// the bus to acknowledge it.
func dropInvalid(ctx context.Context, log *logger.Logger, m drepo.Metrics, topic string, err error) error {
	m.RecordError(string(models.KindInvalidEvent))
	log.Warn("invalid event dropped",
		logger.String("topic", topic),
		logger.String("trace_id", bus.TraceID(ctx)),
		logger.Error(err),
	)
	return nil
}

// publishIntent publishes the wire form of in keyed by strategy, with the
// intent id as trace id.
func publishIntent(ctx context.Context, pub bus.Publisher, in models.Intent) error {
	ctx = bus.WithTraceID(ctx, in.ID())
	return pub.Publish(ctx, models.TopicIntent, []byte(in.StrategyID()), in.Event())
}
