package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
)

func gammaIntent(t *testing.T, dir models.Direction, qty, ref float64) models.Intent {
	t.Helper()
	in, err := models.NewGammaIntent(models.IntentParams{
		ID:             "intent-1",
		StrategyID:     "pq_vol_trader",
		Symbol:         "BTC/USDT",
		Quantity:       qty,
		Confidence:     1,
		ReferencePrice: ref,
		CreatedAt:      t0,
	}, dir)
	require.NoError(t, err)
	return in
}

func hedgeIntent(t *testing.T, qty, ref float64) models.Intent {
	t.Helper()
	in, err := models.NewDeltaHedgeIntent(models.IntentParams{
		ID:             "hedge-1",
		StrategyID:     "delta_hedger",
		Symbol:         "BTC/USDT:USDT",
		Quantity:       qty,
		Confidence:     1,
		ReferencePrice: ref,
		CreatedAt:      t0,
	})
	require.NoError(t, err)
	return in
}

func snapshot() models.PortfolioRiskSnapshot {
	return models.PortfolioRiskSnapshot{
		Sequence:      7,
		TotalDelta:    0.02,
		Leverage:      1.0,
		PositionRatio: 0.2,
		Equity:        20000,
		GrossNotional: 20000,
		Exposures:     map[string]float64{"BTC": 2000},
		Marks:         map[string]float64{"BTC": 50000},
		Timestamp:     t0,
	}
}

func TestRiskGateLeverageExceeded(t *testing.T) {
	params := testTrading().Risk
	params.MaxLeverage = 4.0
	params.MaxSinglePositionPct = 1.0
	g := NewRiskGate(params)

	snap := snapshot()
	snap.GrossNotional = 80000
	snap.Exposures = map[string]float64{"BTC": 0}

	res := g.Check(gammaIntent(t, models.DirectionBuy, 0.1, 50000), snap)
	assert.False(t, res.Approved)
	assert.Equal(t, models.RiskLeverageExceeded, res.Reason)
	assert.InDelta(t, 4.25, res.ProjectedLeverage, 1e-9)
	assert.Equal(t, uint64(7), res.SnapshotSequence)
	assert.Equal(t, snap.Fingerprint(), res.SnapshotFingerprint)
}

func TestRiskGateApproves(t *testing.T) {
	g := NewRiskGate(testTrading().Risk)
	res := g.Check(gammaIntent(t, models.DirectionBuy, 0.1, 50000), snapshot())
	require.True(t, res.Approved)
	assert.Equal(t, models.RiskApproved, res.Reason)
	assert.InDelta(t, 1.25, res.ProjectedLeverage, 1e-9)
	assert.InDelta(t, 0.35, res.ProjectedPositionPct, 1e-9)
	assert.Equal(t, 0.02, res.ProjectedDelta, "straddles are delta neutral at inception")
}

func TestRiskGateVetoOrder(t *testing.T) {
	g := NewRiskGate(testTrading().Risk)
	in := gammaIntent(t, models.DirectionBuy, 0.1, 50000)

	snap := snapshot()
	snap.DrawdownPct = 0.25
	snap.PositionRatio = 0.9
	assert.Equal(t, models.RiskDrawdownExceeded, g.Check(in, snap).Reason, "drawdown is checked first")

	snap.DrawdownPct = 0.1
	assert.Equal(t, models.RiskPositionLimit, g.Check(in, snap).Reason)

	snap = snapshot()
	snap.Exposures = map[string]float64{"BTC": 6000}
	res := g.Check(in, snap)
	assert.Equal(t, models.RiskPositionLimit, res.Reason)
	assert.InDelta(t, 0.55, res.ProjectedPositionPct, 1e-9)

	sell := gammaIntent(t, models.DirectionSell, 0.1, 50000)
	res = g.Check(sell, snap)
	assert.True(t, res.Approved, "selling reduces the exposure")
	assert.InDelta(t, 0.05, res.ProjectedPositionPct, 1e-9)
}

func TestRiskGatePriceUnavailable(t *testing.T) {
	g := NewRiskGate(testTrading().Risk)
	snap := snapshot()
	snap.Marks = nil
	res := g.Check(gammaIntent(t, models.DirectionBuy, 0.1, 0), snap)
	assert.False(t, res.Approved)
	assert.Equal(t, models.RiskPriceUnavailable, res.Reason)

	snap.Marks = map[string]float64{"BTC": 50000}
	assert.True(t, g.Check(gammaIntent(t, models.DirectionBuy, 0.1, 0), snap).Approved, "mark is the fallback price")
}

func TestRiskGateEmptyPortfolio(t *testing.T) {
	g := NewRiskGate(testTrading().Risk)
	empty := models.PortfolioRiskSnapshot{Sequence: 1, Timestamp: t0}
	res := g.Check(gammaIntent(t, models.DirectionBuy, 0.1, 50000), empty)
	assert.True(t, res.Approved)
	assert.Zero(t, res.ProjectedLeverage)

	empty.Exposures = map[string]float64{"BTC": -100}
	res = g.Check(gammaIntent(t, models.DirectionBuy, 0.1, 50000), empty)
	assert.False(t, res.Approved)
	assert.Equal(t, models.RiskPositionLimit, res.Reason)
}

func TestRiskGateHedgeProjectsDelta(t *testing.T) {
	g := NewRiskGate(testTrading().Risk)
	snap := snapshot()
	snap.TotalDelta = 0.12
	res := g.Check(hedgeIntent(t, -0.12, 50000), snap)
	require.True(t, res.Approved)
	assert.InDelta(t, 0, res.ProjectedDelta, 1e-12)
}

func TestRiskGateIsDeterministic(t *testing.T) {
	g := NewRiskGate(testTrading().Risk)
	in := gammaIntent(t, models.DirectionBuy, 0.1, 50000)
	snap := snapshot()
	assert.Equal(t, g.Check(in, snap), g.Check(in, snap))
}
