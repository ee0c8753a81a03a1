package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

// ExecutionHandler turns approved intents into order commands. Every intent
// id is translated at most once; failures are published as rejections.
type ExecutionHandler struct {
	translator *ExecutionTranslator
	dedup      drepo.Deduper
	pub        bus.Publisher
	metrics    drepo.Metrics
	log        *logger.Logger
	now        func() time.Time

	mu       sync.RWMutex
	surfaces map[string]models.VolatilitySurfaceEvent
}

// NewExecutionHandler creates the execution loop.
func NewExecutionHandler(translator *ExecutionTranslator, dedup drepo.Deduper, pub bus.Publisher, metrics drepo.Metrics, log *logger.Logger, now func() time.Time) *ExecutionHandler {
	if now == nil {
		now = utcNow
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ExecutionHandler{
		translator: translator,
		dedup:      dedup,
		pub:        pub,
		metrics:    metrics,
		log:        log.With(logger.String("component", "execution")),
		now:        now,
		surfaces:   make(map[string]models.VolatilitySurfaceEvent),
	}
}

// Handlers returns the handlers of the execution consumer group.
func (h *ExecutionHandler) Handlers() []bus.Handler {
	return []bus.Handler{
		bus.HandlerFunc{Name: models.TopicApprovedIntent, Fn: h.handleApproved},
		bus.HandlerFunc{Name: models.TopicVolSurface, Fn: h.handleSurface},
	}
}

// Surface returns the latest surface for an underlying root.
func (h *ExecutionHandler) Surface(root string) (models.VolatilitySurfaceEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.surfaces[root]
	return s, ok
}

func (h *ExecutionHandler) handleSurface(ctx context.Context, b []byte) error {
	e, err := decodeEvent[models.VolatilitySurfaceEvent](b)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicVolSurface, err)
	}
	root := e.Root()
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.surfaces[root]; ok && cur.Timestamp.After(e.Timestamp) {
		return nil
	}
	h.surfaces[root] = e
	return nil
}

func (h *ExecutionHandler) handleApproved(ctx context.Context, b []byte) error {
	e, err := decodeEvent[models.ApprovedIntentEvent](b)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicApprovedIntent, err)
	}
	in, err := models.IntentFromEvent(e.Intent)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicApprovedIntent, err)
	}
	if !e.Verdict.Approved {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicApprovedIntent,
			models.InvalidEventf("intent %s carries a veto", in.ID()))
	}
	ctx = bus.WithTraceID(ctx, in.ID())

	claimed, err := h.dedup.Claim(ctx, in.ID())
	if err != nil {
		h.metrics.RecordError(string(models.KindInfrastructure))
		return fmt.Errorf("claim intent %s: %w", in.ID(), err)
	}
	if !claimed {
		h.metrics.RecordError(string(models.KindDuplicate))
		h.log.Debug("duplicate intent skipped", logger.String("intent_id", in.ID()))
		return nil
	}

	now := h.now()
	var surface *models.VolatilitySurfaceEvent
	if s, ok := h.Surface(util.UnderlyingRoot(in.Symbol())); ok {
		surface = &s
	}

	cmds, err := h.translator.Translate(in, surface, now)
	if err != nil {
		return h.reject(ctx, in, err, now)
	}
	for _, cmd := range cmds {
		if err := h.pub.Publish(ctx, models.TopicOrderCommand, []byte(cmd.StrategyID), cmd); err != nil {
			h.release(ctx, in.ID())
			return fmt.Errorf("publish order command %s: %w", in.ID(), err)
		}
		h.metrics.RecordCommand(string(cmd.Leg))
		h.log.Info("order command published",
			logger.String("intent_id", cmd.IntentID),
			logger.String("symbol", cmd.Symbol),
			logger.String("side", string(cmd.Side)),
			logger.Float64("quantity", cmd.Quantity),
			logger.String("leg", string(cmd.Leg)),
		)
	}
	h.complete(ctx, in.ID())
	return nil
}

func (h *ExecutionHandler) reject(ctx context.Context, in models.Intent, cause error, now time.Time) error {
	kind := models.Classify(cause)
	rej := models.ExecutionRejectedEvent{
		IntentID:   in.ID(),
		StrategyID: in.StrategyID(),
		Symbol:     in.Symbol(),
		Kind:       kind,
		Reason:     cause.Error(),
		Timestamp:  now,
	}
	if err := h.pub.Publish(ctx, models.TopicExecRejected, []byte(in.StrategyID()), rej); err != nil {
		h.release(ctx, in.ID())
		return fmt.Errorf("publish rejection %s: %w", in.ID(), err)
	}
	h.complete(ctx, in.ID())
	h.metrics.RecordRejection(string(kind))
	h.log.Warn("intent rejected by execution",
		logger.String("intent_id", in.ID()),
		logger.String("kind", string(kind)),
		logger.Error(cause),
	)
	return nil
}

// complete runs after the outcome is published. A failure leaves only the
// lease, which expires, so it is logged rather than retried.
func (h *ExecutionHandler) complete(ctx context.Context, id string) {
	if err := h.dedup.Complete(ctx, id); err != nil {
		h.metrics.RecordError(string(models.KindInfrastructure))
		h.log.Error("mark intent done failed", logger.String("intent_id", id), logger.Error(err))
	}
}

func (h *ExecutionHandler) release(ctx context.Context, id string) {
	if err := h.dedup.Release(ctx, id); err != nil {
		h.log.Error("release intent claim failed", logger.String("intent_id", id), logger.Error(err))
	}
}
