package usecase

import (
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

// Aggregator merges the inbound streams of one strategy into MarketState.
// It does no I/O; the caller logs and publishes.
type Aggregator struct {
	strategyID string
	underlying string
	root       string
	horizon    string

	pVol        models.Optional
	qVol        models.Optional
	price       float64
	regime      models.MacroRegime
	regimeScore float64
	sentiment   models.Optional
	fomo        models.Optional
	risk        models.RiskFigures
	position    float64
	asOf        time.Time
}

// NewAggregator creates an aggregator for one strategy instance. An empty
// horizon accepts forecasts for any horizon.
func NewAggregator(strategyID, underlying, horizon string) *Aggregator {
	return &Aggregator{
		strategyID: strategyID,
		underlying: underlying,
		root:       util.UnderlyingRoot(underlying),
		horizon:    horizon,
		regime:     models.RegimeUnknown,
	}
}

// Update merges event and returns a new MarketState when both P-vol and
// Q-vol are known. Events for other underlyings leave the state untouched
// and return false.
func (a *Aggregator) Update(event interface{}) (models.MarketState, bool) {
	switch e := event.(type) {
	case models.VolatilitySurfaceEvent:
		if e.Root() != a.root {
			return models.MarketState{}, false
		}
		a.pVol = models.Some(e.AtmIV)
		if e.UnderlyingPrice > 0 {
			a.price = e.UnderlyingPrice
		}
		a.touch(e.Timestamp)
	case models.VolatilityForecastEvent:
		if util.UnderlyingRoot(e.Underlying) != a.root {
			return models.MarketState{}, false
		}
		if a.horizon != "" && e.ForecastHorizon != "" && e.ForecastHorizon != a.horizon {
			return models.MarketState{}, false
		}
		a.qVol = models.Some(e.PredictedVolatility)
		a.touch(e.Timestamp)
	case models.MacroStateEvent:
		if e.Symbol != "" && util.UnderlyingRoot(e.Symbol) != a.root {
			return models.MarketState{}, false
		}
		a.regime = models.ParseMacroRegime(e.MacroRegime)
		a.regimeScore = e.RegimeScore
		a.sentiment = models.OptionalFrom(e.SentimentScore)
		a.fomo = models.OptionalFrom(e.FOMOScore)
		a.touch(e.Timestamp)
	case models.PortfolioRiskSnapshot:
		a.risk = e.Figures()
		if mark := e.Mark(a.root); mark > 0 && a.price == 0 {
			a.price = mark
		}
		a.touch(e.Timestamp)
	case models.OrderFillEvent:
		if e.StrategyID != a.strategyID || !isCallLeg(e.Symbol, a.root) {
			return models.MarketState{}, false
		}
		a.position += e.Side.Sign() * e.Quantity
		a.touch(e.Timestamp)
	default:
		return models.MarketState{}, false
	}
	return a.State()
}

// State builds the current snapshot without merging anything.
func (a *Aggregator) State() (models.MarketState, bool) {
	if !a.pVol.Known || !a.qVol.Known {
		return models.MarketState{}, false
	}
	return models.MarketState{
		StrategyID:      a.strategyID,
		Underlying:      a.underlying,
		PVol:            a.pVol.Value,
		QVol:            a.qVol.Value,
		UnderlyingPrice: a.price,
		MacroRegime:     a.regime,
		RegimeScore:     a.regimeScore,
		Sentiment:       a.sentiment,
		FOMO:            a.fomo,
		Risk:            a.risk,
		CurrentPosition: a.position,
		AsOf:            a.asOf,
	}, true
}

func (a *Aggregator) touch(ts time.Time) {
	if ts.After(a.asOf) {
		a.asOf = ts
	}
}

// Straddle size is counted on the call leg only, so one straddle is one unit.
func isCallLeg(symbol, root string) bool {
	opt, err := util.ParseOptionSymbol(symbol)
	return err == nil && opt.Call && opt.Base == root
}
