package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
)

func newEngine() *DecisionEngine {
	return NewDecisionEngine(testTrading().Strategy, seqIDs("intent"))
}

func TestDecideUnderpricedVolatility(t *testing.T) {
	e := newEngine()
	cd := NewCooldown(time.Hour)

	in, ok := e.Decide(marketState(0.60, 0.72, models.Some(0.2)), cd, t0)
	require.True(t, ok)
	assert.Equal(t, models.IntentIncreaseLongGamma, in.Kind())
	assert.Equal(t, models.DirectionBuy, in.Direction())
	assert.Equal(t, models.ReasonUnderpricedVol, in.Reason())
	assert.Equal(t, models.ActionBuyStraddle, in.Action())
	assert.Equal(t, 1.0, in.Confidence())
	assert.Equal(t, 0.1, in.Quantity())
	assert.Equal(t, 50000.0, in.ReferencePrice())

	md := in.Metadata()
	assert.InDelta(t, 0.12, md["pq_spread"], 1e-9)
	assert.Equal(t, "bull", md["macro_regime"])
	assert.Equal(t, 0.6, md["regime_score"])
	assert.Equal(t, "pq_vol_trader", md["strategy_type"])
	assert.Equal(t, 0.2, md["fomo_score"])

	last, armed := cd.Last()
	assert.True(t, armed)
	assert.Equal(t, t0, last)
}

func TestDecideHighFOMOOverridesSpread(t *testing.T) {
	e := newEngine()
	for _, q := range []float64{0.72, 0.60, 0.30} {
		cd := NewCooldown(time.Hour)
		in, ok := e.Decide(marketState(0.60, q, models.Some(0.85)), cd, t0)
		require.True(t, ok)
		assert.Equal(t, models.IntentHold, in.Kind())
		assert.Equal(t, models.ReasonHighFOMO, in.Reason())
		assert.False(t, in.Actionable())
		assert.Equal(t, 0.85, in.Metadata()["fomo_score"])

		_, armed := cd.Last()
		assert.False(t, armed, "holds never arm the cooldown")
	}
}

func TestDecideOverpricedVolatility(t *testing.T) {
	in, ok := newEngine().Decide(marketState(0.70, 0.62, models.Optional{}), nil, t0)
	require.True(t, ok)
	assert.Equal(t, models.IntentIncreaseShortGamma, in.Kind())
	assert.Equal(t, models.DirectionSell, in.Direction())
	assert.Equal(t, models.ReasonOverpricedVol, in.Reason())
	assert.Equal(t, -0.1, in.SignedQuantity())
	assert.Nil(t, in.Metadata()["fomo_score"])
	assert.Contains(t, in.Metadata(), "fomo_score")
}

func TestDecideThresholdNotMet(t *testing.T) {
	in, ok := newEngine().Decide(marketState(0.60, 0.63, models.Some(0.1)), nil, t0)
	require.True(t, ok)
	assert.Equal(t, models.IntentHold, in.Kind())
	assert.Equal(t, models.ReasonThresholdNotMet, in.Reason())
	assert.InDelta(t, 0.6, in.Confidence(), 1e-9)
}

func TestDecideMissingFOMOIsNotAnOverride(t *testing.T) {
	in, ok := newEngine().Decide(marketState(0.60, 0.72, models.Optional{}), nil, t0)
	require.True(t, ok)
	assert.Equal(t, models.IntentIncreaseLongGamma, in.Kind())
}

func TestDecidePositionCaps(t *testing.T) {
	e := newEngine()

	s := marketState(0.60, 0.72, models.Some(0.1))
	s.CurrentPosition = 0.95
	in, ok := e.Decide(s, nil, t0)
	require.True(t, ok)
	assert.InDelta(t, 0.05, in.Quantity(), 1e-9)

	s.CurrentPosition = 1.0
	in, ok = e.Decide(s, nil, t0)
	require.True(t, ok)
	assert.Equal(t, models.IntentHold, in.Kind(), "at the cap the spread rule does not apply")

	s = marketState(0.70, 0.60, models.Some(0.1))
	s.CurrentPosition = -1.0
	in, ok = e.Decide(s, nil, t0)
	require.True(t, ok)
	assert.Equal(t, models.IntentHold, in.Kind())
}

func TestDecideCooldown(t *testing.T) {
	e := newEngine()
	cd := NewCooldown(time.Hour)
	s := marketState(0.60, 0.72, models.Some(0.1))

	first, ok := e.Decide(s, cd, t0)
	require.True(t, ok)
	assert.True(t, first.Actionable())

	_, ok = e.Decide(s, cd, t0.Add(30*time.Minute))
	assert.False(t, ok, "second attempt inside the cooldown yields nothing")

	_, ok = e.Decide(marketState(0.60, 0.61, models.Some(0.1)), cd, t0.Add(59*time.Minute))
	assert.False(t, ok, "holds are suppressed too")

	again, ok := e.Decide(s, cd, t0.Add(time.Hour))
	require.True(t, ok)
	assert.NotEqual(t, first.ID(), again.ID())
}
