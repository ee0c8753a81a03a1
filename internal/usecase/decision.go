package usecase

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
)

const strategyType = "pq_vol_trader"

// DecisionEngine turns a MarketState into an Intent. Decide is a pure
// function of its inputs apart from id generation.
type DecisionEngine struct {
	params config.StrategyParams
	newID  func() string
}

// NewDecisionEngine creates an engine. A nil newID uses random UUIDs.
func NewDecisionEngine(params config.StrategyParams, newID func() string) *DecisionEngine {
	if newID == nil {
		newID = uuid.NewString
	}
	return &DecisionEngine{params: params, newID: newID}
}

// Decide evaluates, in order: cooldown, FOMO override, volatility spread,
// default hold. It returns false when the cooldown suppresses the decision
// or no quantity is available. cd is marked only for directional intents.
func (e *DecisionEngine) Decide(state models.MarketState, cd *Cooldown, now time.Time) (models.Intent, bool) {
	if !cd.Ready(now) {
		return models.Intent{}, false
	}

	spread := state.Spread()
	p := models.IntentParams{
		ID:             e.newID(),
		StrategyID:     state.StrategyID,
		Symbol:         state.Underlying,
		Confidence:     math.Min(math.Abs(spread)/e.params.VolThreshold, 1.0),
		ReferencePrice: state.UnderlyingPrice,
		Metadata: map[string]interface{}{
			"pq_spread":    spread,
			"macro_regime": string(state.MacroRegime),
			"regime_score": state.RegimeScore,
		},
		CreatedAt: now,
	}

	if state.FOMO.Known && state.FOMO.Value > e.params.MaxFOMOScore {
		p.Metadata["fomo_score"] = state.FOMO.Value
		return e.hold(p, models.ReasonHighFOMO)
	}

	maxPos := e.params.MaxPositionSize
	pos := state.CurrentPosition
	switch {
	case spread > e.params.VolThreshold && pos < maxPos:
		return e.directional(state, p, models.DirectionBuy, math.Max(0, maxPos-pos), cd, now)
	case spread < -e.params.VolThreshold && pos > -maxPos:
		return e.directional(state, p, models.DirectionSell, math.Max(0, maxPos+pos), cd, now)
	}
	return e.hold(p, models.ReasonThresholdNotMet)
}

func (e *DecisionEngine) directional(state models.MarketState, p models.IntentParams, dir models.Direction, available float64, cd *Cooldown, now time.Time) (models.Intent, bool) {
	qty := math.Min(e.params.IntentBaseSize, available)
	if qty <= 0 {
		return models.Intent{}, false
	}
	p.Quantity = qty
	p.Metadata["strategy_type"] = strategyType
	p.Metadata["p_vol"] = state.PVol
	p.Metadata["q_vol"] = state.QVol
	p.Metadata["quantity"] = qty
	if state.FOMO.Known {
		p.Metadata["fomo_score"] = state.FOMO.Value
	} else {
		p.Metadata["fomo_score"] = nil
	}

	in, err := models.NewGammaIntent(p, dir)
	if err != nil {
		return models.Intent{}, false
	}
	if cd != nil {
		cd.Mark(now)
	}
	return in, true
}

func (e *DecisionEngine) hold(p models.IntentParams, reason models.Reason) (models.Intent, bool) {
	in, err := models.NewHoldIntent(p, reason)
	if err != nil {
		return models.Intent{}, false
	}
	return in, true
}
