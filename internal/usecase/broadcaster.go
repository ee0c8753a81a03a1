package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	domsvc "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

const portfolioKey = "portfolio"

// RiskBroadcaster is the single writer of portfolio risk snapshots. It
// recomputes from the portfolio store on a schedule and after every fill,
// and publishes only snapshots whose every field was computed.
type RiskBroadcaster struct {
	store   drepo.PortfolioStore
	greeks  domsvc.GreeksCalculator
	vol     domsvc.VolatilityEstimator
	pub     bus.Publisher
	metrics drepo.Metrics
	log     *logger.Logger
	params  config.RiskParams
	window  int
	now     func() time.Time
	epoch   uint64

	mu     sync.Mutex
	latest atomic.Pointer[models.PortfolioRiskSnapshot]

	marketMu sync.RWMutex
	marks    map[string]float64
	ivs      map[string]float64
}

// NewRiskBroadcaster creates a broadcaster. window is the number of PnL
// points used for realized volatility.
func NewRiskBroadcaster(
	store drepo.PortfolioStore,
	greeks domsvc.GreeksCalculator,
	vol domsvc.VolatilityEstimator,
	pub bus.Publisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	params config.RiskParams,
	window int,
	now func() time.Time,
) *RiskBroadcaster {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RiskBroadcaster{
		store:   store,
		greeks:  greeks,
		vol:     vol,
		pub:     pub,
		metrics: metrics,
		log:     log.With(logger.String("component", "risk_broadcaster")),
		params:  params,
		window:  window,
		now:     now,
		epoch:   uint64(now().UnixMilli()),
		marks:   make(map[string]float64),
		ivs:     make(map[string]float64),
	}
}

// UpdateMarket records the latest mark and ATM IV of a surface's underlying.
func (b *RiskBroadcaster) UpdateMarket(e models.VolatilitySurfaceEvent) {
	root := e.Root()
	b.marketMu.Lock()
	defer b.marketMu.Unlock()
	if e.UnderlyingPrice > 0 {
		b.marks[root] = e.UnderlyingPrice
	}
	if e.AtmIV > 0 {
		b.ivs[root] = e.AtmIV
	}
}

// UpdateMark records a traded price for an underlying root.
func (b *RiskBroadcaster) UpdateMark(root string, price float64) {
	if price <= 0 {
		return
	}
	b.marketMu.Lock()
	defer b.marketMu.Unlock()
	if _, ok := b.marks[root]; !ok {
		b.marks[root] = price
	}
}

// Mark returns the latest known price of an underlying root.
func (b *RiskBroadcaster) Mark(root string) (float64, bool) {
	b.marketMu.RLock()
	defer b.marketMu.RUnlock()
	m, ok := b.marks[root]
	return m, ok
}

func (b *RiskBroadcaster) market() (map[string]float64, map[string]float64) {
	b.marketMu.RLock()
	defer b.marketMu.RUnlock()
	marks := make(map[string]float64, len(b.marks))
	for k, v := range b.marks {
		marks[k] = v
	}
	ivs := make(map[string]float64, len(b.ivs))
	for k, v := range b.ivs {
		ivs[k] = v
	}
	return marks, ivs
}

// Latest returns the last published snapshot.
func (b *RiskBroadcaster) Latest() (models.PortfolioRiskSnapshot, bool) {
	p := b.latest.Load()
	if p == nil {
		return models.PortfolioRiskSnapshot{}, false
	}
	return *p, true
}

// Tick is the scheduled entry point.
func (b *RiskBroadcaster) Tick(ctx context.Context) {
	if _, err := b.Recompute(ctx); err != nil {
		b.metrics.RecordError(string(models.Classify(err)))
		b.log.Error("risk broadcast failed", logger.Error(err))
	}
}

// Recompute builds one snapshot from the store and publishes it.
func (b *RiskBroadcaster) Recompute(ctx context.Context) (models.PortfolioRiskSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	snap, err := b.compute(ctx)
	if err != nil {
		return models.PortfolioRiskSnapshot{}, err
	}

	if err := b.pub.Publish(ctx, models.TopicPortfolioRisk, []byte(portfolioKey), snap); err != nil {
		return models.PortfolioRiskSnapshot{}, fmt.Errorf("publish risk snapshot: %w", err)
	}
	b.latest.Store(&snap)

	b.metrics.RecordPortfolio(snap.TotalDelta, snap.TotalGamma, snap.Leverage, snap.DrawdownPct)
	b.metrics.RecordLatency("risk_broadcast", time.Since(start).Seconds())
	b.log.Debug("risk snapshot published",
		logger.Int64("epoch", int64(snap.Epoch)),
		logger.Int64("sequence", int64(snap.Sequence)),
		logger.Float64("delta", snap.TotalDelta),
		logger.Float64("leverage", snap.Leverage),
		logger.Float64("drawdown_pct", snap.DrawdownPct),
	)

	if snap.DrawdownPct > b.params.MaxDrawdownPct {
		b.alert(ctx, snap)
	}
	return snap, nil
}

func (b *RiskBroadcaster) compute(ctx context.Context) (models.PortfolioRiskSnapshot, error) {
	now := b.now()
	balance, err := b.store.Balance(ctx)
	if err != nil {
		return models.PortfolioRiskSnapshot{}, fmt.Errorf("read balance: %w", err)
	}
	positions, err := b.store.Positions(ctx)
	if err != nil {
		return models.PortfolioRiskSnapshot{}, fmt.Errorf("read positions: %w", err)
	}
	peak, err := b.store.Peak(ctx)
	if err != nil {
		return models.PortfolioRiskSnapshot{}, fmt.Errorf("read peak: %w", err)
	}
	marks, ivs := b.market()

	var (
		greeks    models.Greeks
		equity    = balance
		gross     = decimal.Zero
		held      = decimal.Zero
		exposures = make(map[string]float64)
	)
	for symbol, pos := range positions {
		if pos.Quantity.IsZero() {
			continue
		}
		qty := pos.Quantity.InexactFloat64()
		root := util.UnderlyingRoot(symbol)

		if opt, err := util.ParseOptionSymbol(symbol); err == nil {
			spot := marks[root]
			if spot <= 0 {
				spot = opt.Strike
			}
			g := b.greeks.Greeks(domsvc.OptionContract{
				Spot:   spot,
				Strike: opt.Strike,
				Expiry: opt.Expiry,
				Call:   opt.Call,
				Vol:    ivs[root],
			}, now)
			greeks = greeks.Add(g.Scale(qty))

			premium := pos.Quantity.Mul(pos.AvgPrice)
			underlying := pos.Quantity.Mul(decimal.NewFromFloat(spot))
			equity = equity.Add(premium)
			held = held.Add(premium.Abs())
			gross = gross.Add(underlying.Abs())
			exposures[root] += underlying.InexactFloat64()
			continue
		}

		mark := pos.AvgPrice
		if m := marks[root]; m > 0 {
			mark = decimal.NewFromFloat(m)
		}
		value := pos.Quantity.Mul(mark)
		greeks.Delta += qty
		equity = equity.Add(value)
		held = held.Add(value.Abs())
		gross = gross.Add(value.Abs())
		exposures[root] += value.InexactFloat64()
	}

	if equity.GreaterThan(peak) {
		if err := b.store.SetPeak(ctx, equity); err != nil {
			return models.PortfolioRiskSnapshot{}, fmt.Errorf("store peak: %w", err)
		}
		peak = equity
	}
	if err := b.store.RecordPnL(ctx, models.PnLPoint{TotalValue: equity.InexactFloat64(), Timestamp: now}); err != nil {
		return models.PortfolioRiskSnapshot{}, fmt.Errorf("record pnl: %w", err)
	}
	history, err := b.store.RecentPnL(ctx, b.window)
	if err != nil {
		return models.PortfolioRiskSnapshot{}, fmt.Errorf("read pnl history: %w", err)
	}

	seq, err := b.store.NextSequence(ctx)
	if err != nil {
		return models.PortfolioRiskSnapshot{}, fmt.Errorf("reserve snapshot sequence: %w", err)
	}

	snap := models.PortfolioRiskSnapshot{
		Epoch:         b.epoch,
		Sequence:      seq,
		TotalDelta:    greeks.Delta,
		TotalGamma:    greeks.Gamma,
		TotalVega:     greeks.Vega,
		TotalTheta:    greeks.Theta,
		TotalRho:      greeks.Rho,
		Equity:        equity.InexactFloat64(),
		GrossNotional: gross.InexactFloat64(),
		Exposures:     exposures,
		Marks:         marks,
		Timestamp:     now,
	}
	if equity.IsPositive() {
		snap.Leverage = gross.Div(equity).InexactFloat64()
		snap.PositionRatio = held.Div(equity).InexactFloat64()
	}
	if peak.IsPositive() {
		snap.DrawdownPct = math.Max(0, peak.Sub(equity).Div(peak).InexactFloat64())
	}
	if rv, ok := b.vol.RealizedVol(history); ok {
		snap.RealizedVol = &rv
	}
	return snap, nil
}

func (b *RiskBroadcaster) alert(ctx context.Context, snap models.PortfolioRiskSnapshot) {
	alert := models.RiskAlertEvent{
		StrategyID:     "global",
		AlertType:      "loss_limit",
		Severity:       "critical",
		Message:        fmt.Sprintf("drawdown %.2f%% exceeds %.2f%%", snap.DrawdownPct*100, b.params.MaxDrawdownPct*100),
		CurrentValue:   snap.DrawdownPct,
		ThresholdValue: b.params.MaxDrawdownPct,
		Timestamp:      snap.Timestamp,
	}
	if err := b.pub.Publish(ctx, models.TopicRiskAlert, []byte(alert.StrategyID), alert); err != nil {
		b.log.Warn("publish risk alert failed", logger.Error(err))
		return
	}
	b.log.Warn("risk alert raised", logger.String("alert_type", alert.AlertType), logger.Float64("drawdown_pct", snap.DrawdownPct))
}
