package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
)

func buyFill(symbol string, qty, price float64) models.OrderFillEvent {
	return models.OrderFillEvent{StrategyID: "pq_vol_trader", OrderID: symbol, Symbol: symbol, Side: models.SideBuy, Quantity: qty, Price: price, Timestamp: t0}
}

func TestRecomputeSpotPosition(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	_, err := store.ApplyFill(ctx, buyFill("BTC/USDT", 0.1, 50000))
	require.NoError(t, err)

	pub := newRecordingPublisher()
	b := NewRiskBroadcaster(store, fixedGreeks{}, fixedVol{v: 0.3, ok: true}, pub, nopMetrics, nil, testTrading().Risk, 10, newClock().Now)
	b.UpdateMarket(testSurface(t0))

	snap, err := b.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.InDelta(t, 0.1, snap.TotalDelta, 1e-12)
	assert.InDelta(t, 10000, snap.Equity, 1e-9)
	assert.InDelta(t, 5000, snap.GrossNotional, 1e-9)
	assert.InDelta(t, 0.5, snap.Leverage, 1e-12)
	assert.InDelta(t, 5000, snap.Exposure("BTC"), 1e-9)
	assert.Equal(t, 50000.0, snap.Mark("BTC"))
	assert.Zero(t, snap.DrawdownPct)
	require.NotNil(t, snap.RealizedVol)
	assert.Equal(t, 0.3, *snap.RealizedVol)

	msgs := pub.on(models.TopicPortfolioRisk)
	require.Len(t, msgs, 1)
	assert.Equal(t, "portfolio", msgs[0].Key)
	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, snap, latest)

	history, err := store.RecentPnL(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	next, err := b.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Sequence)
}

func TestRecomputeOptionPosition(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	_, err := store.ApplyFill(ctx, buyFill("BTC-20250328-50000-C", 1, 1900))
	require.NoError(t, err)

	pub := newRecordingPublisher()
	g := fixedGreeks{Delta: 0.5, Gamma: 0.0001, Vega: 20, Theta: -15}
	b := NewRiskBroadcaster(store, g, fixedVol{}, pub, nopMetrics, nil, testTrading().Risk, 10, newClock().Now)
	b.UpdateMarket(testSurface(t0))

	snap, err := b.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, snap.TotalDelta)
	assert.Equal(t, 0.0001, snap.TotalGamma)
	assert.Equal(t, 20.0, snap.TotalVega)
	assert.InDelta(t, 10000, snap.Equity, 1e-9, "options are carried at premium paid")
	assert.InDelta(t, 50000, snap.GrossNotional, 1e-9)
	assert.InDelta(t, 5, snap.Leverage, 1e-12)
	assert.InDelta(t, 0.19, snap.PositionRatio, 1e-12)
	assert.Nil(t, snap.RealizedVol, "too little history")
}

func TestRecomputeDrawdownAlert(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	_, err := store.ApplyFill(ctx, buyFill("BTC/USDT", 0.1, 50000))
	require.NoError(t, err)

	pub := newRecordingPublisher()
	params := testTrading().Risk
	params.MaxDrawdownPct = 0.05
	b := NewRiskBroadcaster(store, fixedGreeks{}, fixedVol{}, pub, nopMetrics, nil, params, 10, newClock().Now)

	b.UpdateMarket(testSurface(t0))
	_, err = b.Recompute(ctx)
	require.NoError(t, err)
	assert.Empty(t, pub.on(models.TopicRiskAlert))

	crash := testSurface(t0)
	crash.UnderlyingPrice = 40000
	b.UpdateMarket(crash)
	snap, err := b.Recompute(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9000, snap.Equity, 1e-9)
	assert.InDelta(t, 0.1, snap.DrawdownPct, 1e-12)

	alerts := decodeAll[models.RiskAlertEvent](t, pub.on(models.TopicRiskAlert))
	require.Len(t, alerts, 1)
	assert.Equal(t, "loss_limit", alerts[0].AlertType)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, "global", alerts[0].StrategyID)
	assert.InDelta(t, 0.1, alerts[0].CurrentValue, 1e-12)
}

func TestRecomputeReadErrorPublishesNothing(t *testing.T) {
	pub := newRecordingPublisher()
	cm := newCountingMetrics()
	b := NewRiskBroadcaster(brokenStore{newStore()}, fixedGreeks{}, fixedVol{}, pub, cm, nil, testTrading().Risk, 10, nil)

	_, err := b.Recompute(context.Background())
	require.True(t, errors.Is(err, errStoreDown))
	assert.Empty(t, pub.on(models.TopicPortfolioRisk))
	_, ok := b.Latest()
	assert.False(t, ok)

	b.Tick(context.Background())
	assert.Equal(t, 1, cm.errorCount(string(models.KindInfrastructure)))
}

func TestUpdateMarkKeepsSurfaceMark(t *testing.T) {
	b := NewRiskBroadcaster(newStore(), fixedGreeks{}, fixedVol{}, newRecordingPublisher(), nopMetrics, nil, testTrading().Risk, 10, nil)
	b.UpdateMark("ETH", 3000)
	m, ok := b.Mark("ETH")
	require.True(t, ok)
	assert.Equal(t, 3000.0, m)

	b.UpdateMarket(testSurface(t0))
	b.UpdateMark("BTC", 51000)
	m, _ = b.Mark("BTC")
	assert.Equal(t, 50000.0, m)
}

func TestRestartedBroadcasterOutranksPreviousRun(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	clk := newClock()
	params := testTrading().Risk

	first := NewRiskBroadcaster(store, fixedGreeks{}, fixedVol{}, newRecordingPublisher(), nopMetrics, nil, params, 10, clk.Now)
	var prev models.PortfolioRiskSnapshot
	for i := 0; i < 3; i++ {
		var err error
		prev, err = first.Recompute(ctx)
		require.NoError(t, err)
	}

	clk.Advance(time.Minute)
	second := NewRiskBroadcaster(store, fixedGreeks{}, fixedVol{}, newRecordingPublisher(), nopMetrics, nil, params, 10, clk.Now)
	next, err := second.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next.Sequence, "the sequence continues from the store")
	assert.True(t, prev.Order().Less(next.Order()))

	clk.Advance(time.Minute)
	fresh := NewRiskBroadcaster(newStore(), fixedGreeks{}, fixedVol{}, newRecordingPublisher(), nopMetrics, nil, params, 10, clk.Now)
	reset, err := fresh.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reset.Sequence)
	assert.True(t, next.Order().Less(reset.Order()), "a lost counter is covered by the newer epoch")

	h := NewRiskHandler(NewRiskGate(params), nil, newRecordingPublisher(), nopMetrics, nil, clk.Now)
	snapH := handlerFor(t, h.Handlers(), models.TopicPortfolioRisk)
	for _, s := range []models.PortfolioRiskSnapshot{next, reset, prev} {
		require.NoError(t, snapH.Handle(ctx, mustJSON(t, s)))
	}
	got, ok := h.Snapshot()
	require.True(t, ok)
	assert.Equal(t, reset.Order(), got.Order(), "redelivered snapshots of earlier runs are ignored")
}
