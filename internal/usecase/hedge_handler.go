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
)

// HedgeHandler drives the hedge monitor from portfolio risk snapshots and
// publishes its delta_hedge intents.
type HedgeHandler struct {
	monitor *HedgeMonitor
	pub     bus.Publisher
	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending *models.Intent
}

var _ bus.Handler = (*HedgeHandler)(nil)

// NewHedgeHandler creates the hedge loop.
func NewHedgeHandler(monitor *HedgeMonitor, pub bus.Publisher, metrics drepo.Metrics, log *logger.Logger, now func() time.Time) *HedgeHandler {
	if now == nil {
		now = utcNow
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HedgeHandler{
		monitor: monitor,
		pub:     pub,
		metrics: metrics,
		log:     log.With(logger.String("component", "hedge")),
		now:     now,
	}
}

// Monitor exposes the state machine for ops.
func (h *HedgeHandler) Monitor() *HedgeMonitor { return h.monitor }

func (h *HedgeHandler) Topic() string { return models.TopicPortfolioRisk }

func (h *HedgeHandler) Handle(ctx context.Context, b []byte) error {
	snap, err := decodeEvent[models.PortfolioRiskSnapshot](b)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicPortfolioRisk, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending != nil {
		if err := h.publish(ctx, *h.pending); err != nil {
			return err
		}
		h.pending = nil
	}

	in, ok := h.monitor.Observe(snap, h.now())
	h.metrics.SetHedgeBreached(h.monitor.State() == HedgeBreached)
	if !ok {
		return nil
	}
	h.metrics.RecordIntent(in.StrategyID(), string(in.Kind()), string(in.Reason()))
	if err := h.publish(ctx, in); err != nil {
		h.pending = &in
		return err
	}
	return nil
}

func (h *HedgeHandler) publish(ctx context.Context, in models.Intent) error {
	if err := publishIntent(ctx, h.pub, in); err != nil {
		return fmt.Errorf("publish hedge intent %s: %w", in.ID(), err)
	}
	h.log.Info("delta hedge requested",
		logger.String("intent_id", in.ID()),
		logger.String("symbol", in.Symbol()),
		logger.Float64("quantity", in.Quantity()),
	)
	return nil
}
