package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domsvc "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/cache"
)

// legGreeks prices calls and puts with opposite unit deltas.
type legGreeks struct{}

func (legGreeks) Greeks(c domsvc.OptionContract, _ time.Time) models.Greeks {
	if c.Call {
		return models.Greeks{Delta: 0.5, Gamma: 0.0002}
	}
	return models.Greeks{Delta: -0.5, Gamma: 0.0002}
}

// tap records the raw payloads of the pipeline's output topics.
type tap struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (tp *tap) handler(topic string) bus.Handler {
	return bus.HandlerFunc{Name: topic, Fn: func(_ context.Context, b []byte) error {
		tp.mu.Lock()
		tp.msgs[topic] = append(tp.msgs[topic], b)
		tp.mu.Unlock()
		return nil
	}}
}

func tapped[T any](t *testing.T, tp *tap, topic string) []T {
	t.Helper()
	tp.mu.Lock()
	raw := append([][]byte(nil), tp.msgs[topic]...)
	tp.mu.Unlock()
	msgs := make([]published, len(raw))
	for i, b := range raw {
		msgs[i] = published{Topic: topic, Data: b}
	}
	return decodeAll[T](t, msgs)
}

type pipeline struct {
	bus         *bus.MemoryBus
	clock       *clock
	store       *repository.MemoryPortfolioStore
	broadcaster *RiskBroadcaster
	runner      *StrategyRunner
	risk        *RiskHandler
	hedge       *HedgeHandler
	exec        *ExecutionHandler
	metrics     *countingMetrics
	tap         *tap
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	tr := testTrading()
	tr.Risk.MaxSinglePositionPct = 1

	b := bus.NewMemoryBus(bus.WithMemoryRetry(1, time.Millisecond, time.Millisecond))
	clk := newClock()
	cm := newCountingMetrics()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	store := newStore()
	broadcaster := NewRiskBroadcaster(store, legGreeks{}, fixedVol{}, b, cm, nil, tr.Risk, 10, clk.Now)
	runner := NewStrategyRunner(tr.Strategy.Instances[0], tr.Strategy, b, cm, nil, seqIDs("intent"), clk.Now)
	risk := NewRiskHandler(NewRiskGate(tr.Risk), repository.NewCacheVerdictStore(c, time.Hour), b, cm, nil, clk.Now)
	hedge := NewHedgeHandler(NewHedgeMonitor(tr.Hedge, seqIDs("hedge")), b, cm, nil, clk.Now)
	exec := NewExecutionHandler(NewExecutionTranslator(tr.Execution, tr.Hedge),
		repository.NewCacheDeduper(c, "exec:intent", time.Second, time.Hour), b, cm, nil, clk.Now)
	portfolio := NewPortfolioHandler(store, broadcaster,
		repository.NewCacheDeduper(c, "portfolio:fill", time.Second, time.Hour), b, cm, nil, clk.Now)

	tp := &tap{msgs: make(map[string][][]byte)}
	groups := map[string][]bus.Handler{
		"strategy":  NewStrategyHandlers([]*StrategyRunner{runner}, cm, nil),
		"risk":      risk.Handlers(),
		"hedge":     {hedge},
		"execution": exec.Handlers(),
		"portfolio": portfolio.Handlers(),
		"tap": {
			tp.handler(models.TopicIntent),
			tp.handler(models.TopicRiskVerdict),
			tp.handler(models.TopicApprovedIntent),
			tp.handler(models.TopicOrderCommand),
			tp.handler(models.TopicExecRejected),
			tp.handler(models.TopicPositionUpdate),
		},
	}
	for id, handlers := range groups {
		g := b.Group(id)
		for _, h := range handlers {
			g.RegisterHandler(h)
		}
		require.NoError(t, g.Start())
		t.Cleanup(func() { _ = g.Stop(context.Background()) })
	}

	return &pipeline{
		bus: b, clock: clk, store: store, broadcaster: broadcaster, runner: runner,
		risk: risk, hedge: hedge, exec: exec, metrics: cm, tap: tp,
	}
}

func (p *pipeline) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.bus.WaitIdle(ctx))
}

func (p *pipeline) send(t *testing.T, topic, key string, v interface{}) {
	t.Helper()
	require.NoError(t, p.bus.Publish(context.Background(), topic, []byte(key), v))
	p.settle(t)
}

func (p *pipeline) broadcast(t *testing.T) {
	t.Helper()
	_, err := p.broadcaster.Recompute(context.Background())
	require.NoError(t, err)
	p.settle(t)
}

func (p *pipeline) feedMarket(t *testing.T, qVol, fomo float64) {
	t.Helper()
	p.send(t, models.TopicVolSurface, "BTC/USDT", testSurface(p.clock.Now()))
	p.send(t, models.TopicMacroState, "macro", models.MacroStateEvent{
		MacroRegime: "bull", RegimeScore: 0.6, FOMOScore: &fomo, Timestamp: p.clock.Now(),
	})
	p.send(t, models.TopicVolForecast, "BTC/USDT", models.VolatilityForecastEvent{
		Underlying: "BTC/USDT", ForecastHorizon: "24h", PredictedVolatility: qVol, Timestamp: p.clock.Now(),
	})
}

func fillFor(cmd models.ExecutionCommand, price float64) models.OrderFillEvent {
	if cmd.Price > 0 {
		price = cmd.Price
	}
	return models.OrderFillEvent{
		StrategyID: cmd.StrategyID,
		OrderID:    "ord-" + cmd.IntentID + "-" + string(cmd.Leg),
		IntentID:   cmd.IntentID,
		Symbol:     cmd.Symbol,
		Side:       cmd.Side,
		Quantity:   cmd.Quantity,
		Price:      price,
		Timestamp:  t0,
	}
}

func TestPipelineUnderpricedVolBuysStraddle(t *testing.T) {
	p := newPipeline(t)
	p.broadcast(t)
	p.feedMarket(t, 0.72, 0.2)

	intents := tapped[models.StrategyIntentEvent](t, p.tap, models.TopicIntent)
	require.Len(t, intents, 1)
	assert.Equal(t, models.IntentIncreaseLongGamma, intents[0].IntentType)
	assert.Equal(t, models.ReasonUnderpricedVol, intents[0].Reason)

	verdicts := tapped[models.RiskVerdictEvent](t, p.tap, models.TopicRiskVerdict)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Result.Approved)
	assert.Equal(t, uint64(1), verdicts[0].Result.SnapshotSequence)

	approved := tapped[models.ApprovedIntentEvent](t, p.tap, models.TopicApprovedIntent)
	require.Len(t, approved, 1)
	assert.Equal(t, "risk_service", approved[0].ApprovedBy)

	cmds := tapped[models.ExecutionCommand](t, p.tap, models.TopicOrderCommand)
	require.Len(t, cmds, 2)
	legs := map[models.Leg]models.ExecutionCommand{}
	for _, c := range cmds {
		legs[c.Leg] = c
		assert.Equal(t, intents[0].IntentID, c.IntentID)
		assert.Equal(t, models.SideBuy, c.Side)
		assert.InDelta(t, 0.1, c.Quantity, 1e-12)
	}
	assert.Equal(t, "BTC-20250328-50000-C", legs[models.LegCall].Symbol)
	assert.Equal(t, "BTC-20250328-50000-P", legs[models.LegPut].Symbol)

	for _, c := range cmds {
		p.send(t, models.TopicOrderFill, c.StrategyID, fillFor(c, 0))
	}

	st := p.runner.Status()
	assert.InDelta(t, 0.1, st.Position, 1e-12, "the call leg counts as the straddle position")
	assert.Equal(t, models.IntentIncreaseLongGamma, st.LastIntentKind)

	snap, ok := p.risk.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(3), snap.Sequence)
	assert.InDelta(t, 0, snap.TotalDelta, 1e-12)
	assert.InDelta(t, 10000, snap.Equity, 1e-9)
	assert.Equal(t, HedgeNeutral, p.hedge.Monitor().State())
	assert.Len(t, tapped[models.PositionUpdateEvent](t, p.tap, models.TopicPositionUpdate), 2)

	p.send(t, models.TopicVolForecast, "BTC/USDT", models.VolatilityForecastEvent{
		Underlying: "BTC/USDT", ForecastHorizon: "24h", PredictedVolatility: 0.75, Timestamp: t0,
	})
	assert.Len(t, tapped[models.StrategyIntentEvent](t, p.tap, models.TopicIntent), 1, "cooldown holds back a second intent")
	assert.Empty(t, p.bus.DeadLetters())
}

func TestPipelineHighFOMOPublishesNothing(t *testing.T) {
	p := newPipeline(t)
	p.broadcast(t)
	p.feedMarket(t, 0.72, 0.85)

	assert.Empty(t, tapped[models.StrategyIntentEvent](t, p.tap, models.TopicIntent))
	assert.Equal(t, models.IntentHold, p.runner.Status().LastIntentKind)
	assert.Empty(t, tapped[models.ExecutionCommand](t, p.tap, models.TopicOrderCommand))
}

func TestPipelineVetoesWithoutSnapshot(t *testing.T) {
	p := newPipeline(t)
	p.feedMarket(t, 0.72, 0.2)

	verdicts := tapped[models.RiskVerdictEvent](t, p.tap, models.TopicRiskVerdict)
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].Result.Approved)
	assert.Equal(t, models.RiskSnapshotMissing, verdicts[0].Result.Reason)
	assert.Empty(t, tapped[models.ApprovedIntentEvent](t, p.tap, models.TopicApprovedIntent))
	assert.Empty(t, tapped[models.ExecutionCommand](t, p.tap, models.TopicOrderCommand))
	assert.Equal(t, 1, p.metrics.verdictCount(string(models.RiskSnapshotMissing)))
}

func TestPipelineRedeliveredIntentExecutesOnce(t *testing.T) {
	p := newPipeline(t)
	p.broadcast(t)
	p.send(t, models.TopicVolSurface, "BTC/USDT", testSurface(t0))

	in := gammaIntent(t, models.DirectionBuy, 0.1, 50000)
	p.send(t, models.TopicIntent, in.StrategyID(), in.Event())
	p.send(t, models.TopicIntent, in.StrategyID(), in.Event())

	verdicts := tapped[models.RiskVerdictEvent](t, p.tap, models.TopicRiskVerdict)
	require.Len(t, verdicts, 2)
	assert.False(t, verdicts[0].Replayed)
	assert.True(t, verdicts[1].Replayed)
	assert.Equal(t, verdicts[0].Result, verdicts[1].Result)
	assert.Equal(t, 1, p.metrics.verdictCount(string(models.RiskApproved)))

	assert.Len(t, tapped[models.ExecutionCommand](t, p.tap, models.TopicOrderCommand), 2)
	assert.Equal(t, 1, p.metrics.errorCount(string(models.KindDuplicate)))
}

func TestPipelineStaleSurfaceIsRejected(t *testing.T) {
	p := newPipeline(t)
	p.broadcast(t)
	p.send(t, models.TopicVolSurface, "BTC/USDT", testSurface(t0.Add(-5*time.Minute)))

	in := gammaIntent(t, models.DirectionBuy, 0.1, 50000)
	p.send(t, models.TopicIntent, in.StrategyID(), in.Event())

	assert.Empty(t, tapped[models.ExecutionCommand](t, p.tap, models.TopicOrderCommand))
	rejected := tapped[models.ExecutionRejectedEvent](t, p.tap, models.TopicExecRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, models.KindStaleSurface, rejected[0].Kind)
	assert.Equal(t, in.ID(), rejected[0].IntentID)
}

func TestPipelineDeltaHedgeLoop(t *testing.T) {
	p := newPipeline(t)
	p.broadcast(t)
	p.send(t, models.TopicVolSurface, "BTC/USDT", testSurface(t0))

	p.send(t, models.TopicOrderFill, "manual", models.OrderFillEvent{
		StrategyID: "manual", OrderID: "spot-1", Symbol: "BTC/USDT",
		Side: models.SideBuy, Quantity: 0.12, Price: 50000, Timestamp: t0,
	})

	intents := tapped[models.StrategyIntentEvent](t, p.tap, models.TopicIntent)
	require.Len(t, intents, 1)
	assert.Equal(t, models.IntentDeltaHedge, intents[0].IntentType)
	assert.Equal(t, "delta_hedger", intents[0].StrategyID)
	assert.InDelta(t, -0.12, intents[0].Quantity, 1e-12)
	assert.Equal(t, HedgeBreached, p.hedge.Monitor().State())

	cmds := tapped[models.ExecutionCommand](t, p.tap, models.TopicOrderCommand)
	require.Len(t, cmds, 1)
	assert.Equal(t, "BTC/USDT:USDT", cmds[0].Symbol)
	assert.Equal(t, models.SideSell, cmds[0].Side)
	assert.InDelta(t, 0.12, cmds[0].Quantity, 1e-12)
	assert.Equal(t, models.LegHedge, cmds[0].Leg)

	p.send(t, models.TopicOrderFill, cmds[0].StrategyID, fillFor(cmds[0], 50000))
	assert.Equal(t, HedgeNeutral, p.hedge.Monitor().State())
	snap, ok := p.broadcaster.Latest()
	require.True(t, ok)
	assert.InDelta(t, 0, snap.TotalDelta, 1e-12)
	assert.InDelta(t, 0, snap.Exposure("BTC"), 1e-9)
	assert.Len(t, tapped[models.StrategyIntentEvent](t, p.tap, models.TopicIntent), 1)
}

func TestPipelineDuplicateFillAppliedOnce(t *testing.T) {
	p := newPipeline(t)
	p.broadcast(t)
	fill := models.OrderFillEvent{
		StrategyID: "manual", OrderID: "spot-1", Symbol: "BTC/USDT",
		Side: models.SideBuy, Quantity: 0.01, Price: 50000, Timestamp: t0,
	}
	p.send(t, models.TopicOrderFill, "manual", fill)
	p.send(t, models.TopicOrderFill, "manual", fill)

	pos, ok, err := p.store.Position(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0.01", pos.Quantity.String())
	assert.Len(t, tapped[models.PositionUpdateEvent](t, p.tap, models.TopicPositionUpdate), 1)
}
