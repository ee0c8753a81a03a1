package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

const approvedBy = "risk_service"

// RiskHandler vetoes or approves actionable intents against the latest
// portfolio snapshot. Verdicts are cached by (intent id, snapshot
// fingerprint) so a redelivered intent gets the same answer.
type RiskHandler struct {
	gate     *RiskGate
	verdicts drepo.VerdictStore
	pub      bus.Publisher
	metrics  drepo.Metrics
	log      *logger.Logger
	now      func() time.Time

	latest atomic.Pointer[models.PortfolioRiskSnapshot]
}

// NewRiskHandler creates the risk loop.
func NewRiskHandler(gate *RiskGate, verdicts drepo.VerdictStore, pub bus.Publisher, metrics drepo.Metrics, log *logger.Logger, now func() time.Time) *RiskHandler {
	if now == nil {
		now = utcNow
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RiskHandler{
		gate:     gate,
		verdicts: verdicts,
		pub:      pub,
		metrics:  metrics,
		log:      log.With(logger.String("component", "risk")),
		now:      now,
	}
}

// Handlers returns the handlers of the risk consumer group.
func (h *RiskHandler) Handlers() []bus.Handler {
	return []bus.Handler{
		bus.HandlerFunc{Name: models.TopicIntent, Fn: h.handleIntent},
		bus.HandlerFunc{Name: models.TopicPortfolioRisk, Fn: h.handleSnapshot},
	}
}

// Snapshot returns the snapshot the next check will use.
func (h *RiskHandler) Snapshot() (models.PortfolioRiskSnapshot, bool) {
	p := h.latest.Load()
	if p == nil {
		return models.PortfolioRiskSnapshot{}, false
	}
	return *p, true
}

func (h *RiskHandler) handleSnapshot(ctx context.Context, b []byte) error {
	snap, err := decodeEvent[models.PortfolioRiskSnapshot](b)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicPortfolioRisk, err)
	}
	for {
		cur := h.latest.Load()
		if cur != nil && snap.Sequenced() && snap.Order().Less(cur.Order()) {
			return nil
		}
		if h.latest.CompareAndSwap(cur, &snap) {
			return nil
		}
	}
}

func (h *RiskHandler) handleIntent(ctx context.Context, b []byte) error {
	e, err := decodeEvent[models.StrategyIntentEvent](b)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicIntent, err)
	}
	in, err := models.IntentFromEvent(e)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, models.TopicIntent, err)
	}
	if !in.Actionable() {
		return nil
	}
	ctx = bus.WithTraceID(ctx, in.ID())

	start := time.Now()
	result, replayed, err := h.check(ctx, in)
	if err != nil {
		h.metrics.RecordError(string(models.Classify(err)))
		return err
	}
	h.metrics.RecordLatency("risk_check", time.Since(start).Seconds())

	now := h.now()
	verdict := models.RiskVerdictEvent{
		IntentID:   in.ID(),
		StrategyID: in.StrategyID(),
		IntentType: in.Kind(),
		Symbol:     in.Symbol(),
		Result:     result,
		Replayed:   replayed,
		Timestamp:  now,
	}
	if err := h.pub.Publish(ctx, models.TopicRiskVerdict, []byte(in.StrategyID()), verdict); err != nil {
		return fmt.Errorf("publish verdict %s: %w", in.ID(), err)
	}
	if !replayed {
		h.metrics.RecordVerdict(result.Approved, string(result.Reason))
	}

	fields := []logger.Field{
		logger.String("intent_id", in.ID()),
		logger.String("intent_type", string(in.Kind())),
		logger.String("reason", string(result.Reason)),
		logger.Float64("projected_leverage", result.ProjectedLeverage),
		logger.Bool("replayed", replayed),
	}
	if !result.Approved {
		h.log.Warn("intent vetoed", fields...)
		return nil
	}

	approved := models.ApprovedIntentEvent{
		Intent:     e,
		Verdict:    result,
		ApprovedBy: approvedBy,
		Timestamp:  now,
	}
	if err := h.pub.Publish(ctx, models.TopicApprovedIntent, []byte(in.StrategyID()), approved); err != nil {
		return fmt.Errorf("publish approved intent %s: %w", in.ID(), err)
	}
	h.log.Info("intent approved", fields...)
	return nil
}

func (h *RiskHandler) check(ctx context.Context, in models.Intent) (models.RiskCheckResult, bool, error) {
	snap, ok := h.Snapshot()
	if !ok {
		return models.RiskCheckResult{Approved: false, Reason: models.RiskSnapshotMissing}, false, nil
	}
	fp := snap.Fingerprint()
	if h.verdicts != nil {
		cached, found, err := h.verdicts.Get(ctx, in.ID(), fp)
		if err != nil {
			return models.RiskCheckResult{}, false, fmt.Errorf("read verdict: %w", err)
		}
		if found {
			return cached, true, nil
		}
	}
	result := h.gate.Check(in, snap)
	if h.verdicts != nil {
		if err := h.verdicts.Put(ctx, in.ID(), fp, result); err != nil {
			return models.RiskCheckResult{}, false, fmt.Errorf("store verdict: %w", err)
		}
	}
	return result, false, nil
}
