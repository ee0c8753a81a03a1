package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

// PortfolioHandler applies fills to the portfolio store and triggers a
// risk broadcast after each one. It also feeds surface marks to the
// broadcaster.
type PortfolioHandler struct {
	store       drepo.PortfolioStore
	broadcaster *RiskBroadcaster
	fills       drepo.Deduper
	pub         bus.Publisher
	metrics     drepo.Metrics
	log         *logger.Logger
	now         func() time.Time
}

// NewPortfolioHandler creates the portfolio loop. fills deduplicates by
// order id; nil applies every delivery.
func NewPortfolioHandler(store drepo.PortfolioStore, broadcaster *RiskBroadcaster, fills drepo.Deduper, pub bus.Publisher, metrics drepo.Metrics, log *logger.Logger, now func() time.Time) *PortfolioHandler {
	if now == nil {
		now = utcNow
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PortfolioHandler{
		store:       store,
		broadcaster: broadcaster,
		fills:       fills,
		pub:         pub,
		metrics:     metrics,
		log:         log.With(logger.String("component", "portfolio")),
		now:         now,
	}
}

// Handlers returns the handlers of the portfolio consumer group.
func (h *PortfolioHandler) Handlers() []bus.Handler {
	return []bus.Handler{
		bus.HandlerFunc{Name: models.TopicOrderFill, Fn: h.handleFill},
		bus.HandlerFunc{Name: models.TopicVolSurface, Fn: h.handleSurface},
	}
}

func (h *PortfolioHandler) handleSurface(ctx context.Context, b []byte) error {
	e, err := decodeEvent[models.VolatilitySurfaceEvent](b)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicVolSurface, err)
	}
	h.broadcaster.UpdateMarket(e)
	return nil
}

func validateFill(f models.OrderFillEvent) error {
	switch {
	case f.Symbol == "":
		return models.InvalidEventf("fill %s without symbol", f.OrderID)
	case f.Side != models.SideBuy && f.Side != models.SideSell:
		return models.InvalidEventf("fill %s has side %q", f.OrderID, f.Side)
	case f.Quantity <= 0:
		return models.InvalidEventf("fill %s has quantity %v", f.OrderID, f.Quantity)
	case f.Price <= 0:
		return models.InvalidEventf("fill %s has price %v", f.OrderID, f.Price)
	}
	return nil
}

func (h *PortfolioHandler) handleFill(ctx context.Context, b []byte) error {
	fill, err := decodeEvent[models.OrderFillEvent](b)
	if err == nil {
		err = validateFill(fill)
	}
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicOrderFill, err)
	}
	if fill.IntentID != "" {
		ctx = bus.WithTraceID(ctx, fill.IntentID)
	}

	if h.fills != nil && fill.OrderID != "" {
		claimed, err := h.fills.Claim(ctx, fill.OrderID)
		if err != nil {
			return fmt.Errorf("claim fill %s: %w", fill.OrderID, err)
		}
		if !claimed {
			h.log.Debug("duplicate fill skipped", logger.String("order_id", fill.OrderID))
			return nil
		}
	}

	pos, err := h.store.ApplyFill(ctx, fill)
	if err != nil {
		if h.fills != nil && fill.OrderID != "" {
			if rerr := h.fills.Release(ctx, fill.OrderID); rerr != nil {
				h.log.Error("release fill claim failed", logger.Error(rerr))
			}
		}
		h.metrics.RecordError(string(models.KindInfrastructure))
		return fmt.Errorf("apply fill %s: %w", fill.OrderID, err)
	}
	if h.fills != nil && fill.OrderID != "" {
		if err := h.fills.Complete(ctx, fill.OrderID); err != nil {
			h.metrics.RecordError(string(models.KindInfrastructure))
			h.log.Error("mark fill done failed", logger.String("order_id", fill.OrderID), logger.Error(err))
		}
	}

	root := util.UnderlyingRoot(fill.Symbol)
	if !util.IsOptionSymbol(fill.Symbol) {
		h.broadcaster.UpdateMark(root, fill.Price)
	}
	update := models.PositionUpdateEvent{
		StrategyID:    fill.StrategyID,
		Symbol:        pos.Symbol,
		Quantity:      pos.Quantity.InexactFloat64(),
		AvgPrice:      pos.AvgPrice.InexactFloat64(),
		UnrealizedPnL: h.unrealized(pos),
		Timestamp:     h.now(),
	}
	if err := h.pub.Publish(ctx, models.TopicPositionUpdate, []byte(fill.StrategyID), update); err != nil {
		h.log.Warn("publish position update failed", logger.Error(err))
	}
	h.log.Info("fill applied",
		logger.String("order_id", fill.OrderID),
		logger.String("symbol", fill.Symbol),
		logger.String("side", string(fill.Side)),
		logger.Float64("quantity", fill.Quantity),
		logger.Float64("position", update.Quantity),
	)

	// The fill is already applied; a failed broadcast is caught up by the
	// next scheduled one.
	if _, err := h.broadcaster.Recompute(ctx); err != nil {
		h.metrics.RecordError(string(models.Classify(err)))
		h.log.Error("risk broadcast after fill failed", logger.Error(err))
	}
	return nil
}

// unrealized is (mark - avg) * qty for spot and futures positions with a
// known mark, zero otherwise.
func (h *PortfolioHandler) unrealized(pos models.Position) float64 {
	if util.IsOptionSymbol(pos.Symbol) {
		return 0
	}
	mark, ok := h.broadcaster.Mark(util.UnderlyingRoot(pos.Symbol))
	if !ok {
		return 0
	}
	return decimal.NewFromFloat(mark).Sub(pos.AvgPrice).Mul(pos.Quantity).InexactFloat64()
}
