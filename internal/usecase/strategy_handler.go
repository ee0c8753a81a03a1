package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// StrategyStatus is the ops view of one strategy instance.
type StrategyStatus struct {
	StrategyID     string             `json:"strategy_id"`
	Underlying     string             `json:"underlying"`
	Ready          bool               `json:"ready"`
	PVol           float64            `json:"p_vol,omitempty"`
	QVol           float64            `json:"q_vol,omitempty"`
	Spread         float64            `json:"pq_spread,omitempty"`
	MacroRegime    models.MacroRegime `json:"macro_regime,omitempty"`
	Position       float64            `json:"current_position"`
	LastIntentAt   *time.Time         `json:"last_intent_at,omitempty"`
	LastIntentKind models.IntentKind  `json:"last_intent_type,omitempty"`
	AsOf           time.Time          `json:"as_of"`
	Pending        bool               `json:"pending_publish,omitempty"`
	Cooldown       string             `json:"cooldown"`
}

// StrategyRunner owns the state of one strategy instance: its aggregator,
// decision engine and cooldown. Events are applied one at a time.
type StrategyRunner struct {
	id         string
	underlying string
	pub        bus.Publisher
	metrics    drepo.Metrics
	log        *logger.Logger
	holds      bool
	legacy     bool
	now        func() time.Time

	mu       sync.Mutex
	agg      *Aggregator
	engine   *DecisionEngine
	cooldown *Cooldown
	pending  *models.Intent
	lastKind models.IntentKind
	fills    *recentSet
}

const fillMemory = 1024

// recentSet remembers the last n keys.
type recentSet struct {
	keys  map[string]struct{}
	order []string
	n     int
}

func newRecentSet(n int) *recentSet {
	return &recentSet{keys: make(map[string]struct{}, n), n: n}
}

// Add reports whether key was new.
func (s *recentSet) Add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.n {
		delete(s.keys, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

// NewStrategyRunner creates the runner of one configured instance.
func NewStrategyRunner(
	inst config.StrategyInstance,
	params config.StrategyParams,
	pub bus.Publisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	newID func() string,
	now func() time.Time,
) *StrategyRunner {
	if now == nil {
		now = utcNow
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StrategyRunner{
		id:         inst.ID,
		underlying: inst.Underlying,
		pub:        pub,
		metrics:    metrics,
		log:        log.With(logger.String("component", "strategy"), logger.String("strategy_id", inst.ID)),
		holds:      params.PublishHolds,
		legacy:     params.LegacySignals,
		now:        now,
		agg:        NewAggregator(inst.ID, inst.Underlying, params.ForecastHorizon),
		engine:     NewDecisionEngine(params, newID),
		cooldown:   NewCooldown(params.Cooldown()),
		fills:      newRecentSet(fillMemory),
	}
}

// ID returns the strategy id.
func (r *StrategyRunner) ID() string { return r.id }

// Apply merges one event and publishes the resulting intent, if any. An
// intent whose publish failed is retried before the next event is applied.
// Redelivered fills of the same order are ignored.
func (r *StrategyRunner) Apply(ctx context.Context, event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil {
		if err := r.publish(ctx, *r.pending); err != nil {
			return err
		}
		r.pending = nil
	}

	if fill, ok := event.(models.OrderFillEvent); ok && fill.OrderID != "" && fill.StrategyID == r.id {
		if !r.fills.Add(fill.OrderID) {
			return nil
		}
	}

	state, ok := r.agg.Update(event)
	if !ok {
		return nil
	}
	in, ok := r.engine.Decide(state, r.cooldown, r.now())
	if !ok {
		return nil
	}
	r.lastKind = in.Kind()
	r.metrics.RecordIntent(r.id, string(in.Kind()), string(in.Reason()))

	if !in.Actionable() && !r.holds {
		r.log.Debug("hold", logger.String("reason", string(in.Reason())), logger.Float64("pq_spread", state.Spread()))
		return nil
	}
	if err := r.publish(ctx, in); err != nil {
		r.pending = &in
		return err
	}
	return nil
}

func (r *StrategyRunner) publish(ctx context.Context, in models.Intent) error {
	if err := publishIntent(ctx, r.pub, in); err != nil {
		return fmt.Errorf("publish intent %s: %w", in.ID(), err)
	}
	if r.legacy {
		if err := r.pub.Publish(bus.WithTraceID(ctx, in.ID()), models.TopicSignal, []byte(r.id), models.SignalFromIntent(in)); err != nil {
			r.log.Warn("publish legacy signal failed", logger.Error(err))
		}
	}
	r.log.Info("intent published",
		logger.String("intent_id", in.ID()),
		logger.String("intent_type", string(in.Kind())),
		logger.String("reason", string(in.Reason())),
		logger.Float64("quantity", in.Quantity()),
		logger.Float64("confidence", in.Confidence()),
	)
	return nil
}

// Status returns the ops view.
func (r *StrategyRunner) Status() StrategyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := StrategyStatus{
		StrategyID:     r.id,
		Underlying:     r.underlying,
		LastIntentKind: r.lastKind,
		Pending:        r.pending != nil,
		Cooldown:       r.cooldown.Interval().String(),
	}
	if last, ok := r.cooldown.Last(); ok {
		st.LastIntentAt = &last
	}
	if state, ok := r.agg.State(); ok {
		st.Ready = true
		st.PVol = state.PVol
		st.QVol = state.QVol
		st.Spread = state.Spread()
		st.MacroRegime = state.MacroRegime
		st.Position = state.CurrentPosition
		st.AsOf = state.AsOf
	}
	return st
}

// StrategyHandler feeds one inbound topic to every strategy runner.
type StrategyHandler struct {
	topic   string
	decode  func([]byte) (interface{}, error)
	runners []*StrategyRunner
	metrics drepo.Metrics
	log     *logger.Logger
}

var _ bus.Handler = (*StrategyHandler)(nil)

func (h *StrategyHandler) Topic() string { return h.topic }

func (h *StrategyHandler) Handle(ctx context.Context, b []byte) error {
	event, err := h.decode(b)
	if err != nil {
		return dropInvalid(ctx, h.log, h.metrics, h.topic, err)
	}
	var errs []error
	for _, r := range h.runners {
		if err := r.Apply(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decoderFor[T any]() func([]byte) (interface{}, error) {
	return func(b []byte) (interface{}, error) {
		v, err := decodeEvent[T](b)
		return v, err
	}
}

// NewStrategyHandlers returns the handlers of the strategy consumer group.
func NewStrategyHandlers(runners []*StrategyRunner, metrics drepo.Metrics, log *logger.Logger) []bus.Handler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.String("component", "strategy"))
	mk := func(topic string, dec func([]byte) (interface{}, error)) bus.Handler {
		return &StrategyHandler{topic: topic, decode: dec, runners: runners, metrics: metrics, log: log}
	}
	return []bus.Handler{
		mk(models.TopicVolSurface, decoderFor[models.VolatilitySurfaceEvent]()),
		mk(models.TopicVolForecast, decoderFor[models.VolatilityForecastEvent]()),
		mk(models.TopicMacroState, decoderFor[models.MacroStateEvent]()),
		mk(models.TopicPortfolioRisk, decoderFor[models.PortfolioRiskSnapshot]()),
		mk(models.TopicOrderFill, decoderFor[models.OrderFillEvent]()),
	}
}
