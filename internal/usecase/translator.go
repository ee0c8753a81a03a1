package usecase

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

// ExecutionTranslator turns approved intents into order commands.
type ExecutionTranslator struct {
	params          config.ExecutionParams
	hedgeInstrument string
}

// NewExecutionTranslator creates a translator.
func NewExecutionTranslator(params config.ExecutionParams, hedge config.HedgeParams) *ExecutionTranslator {
	return &ExecutionTranslator{params: params, hedgeInstrument: hedge.HedgeInstrument}
}

// Translate returns the orders for one approved intent. Straddles need a
// surface no older than surface_max_age at now; holds yield no orders.
func (t *ExecutionTranslator) Translate(in models.Intent, surface *models.VolatilitySurfaceEvent, now time.Time) ([]models.ExecutionCommand, error) {
	switch {
	case !in.Actionable():
		return nil, nil
	case in.IsOption():
		return t.straddle(in, surface, now)
	case in.Kind() == models.IntentDeltaHedge:
		return []models.ExecutionCommand{t.hedge(in, now)}, nil
	default:
		return nil, nil
	}
}

func (t *ExecutionTranslator) straddle(in models.Intent, surface *models.VolatilitySurfaceEvent, now time.Time) ([]models.ExecutionCommand, error) {
	if surface == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrSurfaceUnavailable, in.Symbol())
	}
	if age := now.Sub(surface.Timestamp); age > t.params.SurfaceMaxAge {
		return nil, &models.StaleSurfaceError{
			Underlying:  surface.Underlying,
			SurfaceTime: surface.Timestamp,
			Age:         age,
			MaxAge:      t.params.SurfaceMaxAge,
		}
	}

	legs, err := resolveATM(*surface)
	if err != nil {
		return nil, err
	}

	qty := in.Quantity() * in.Confidence()
	if qty <= 0 {
		return nil, fmt.Errorf("%w: intent %s has no size", models.ErrATMUnresolved, in.ID())
	}
	side := models.SideOf(in.Direction())
	out := make([]models.ExecutionCommand, 0, 2)
	for _, leg := range legs {
		cmd := models.ExecutionCommand{
			IntentID:   in.ID(),
			StrategyID: in.StrategyID(),
			Symbol:     util.FormatOptionSymbol(surface.Underlying, leg.expiry, leg.quote.Strike, leg.quote.IsCall()),
			Side:       side,
			Quantity:   qty,
			OrderType:  t.params.OptionOrderType,
			Leg:        models.LegPut,
			Command:    "create",
			CreatedAt:  now,
		}
		if leg.quote.IsCall() {
			cmd.Leg = models.LegCall
		}
		if cmd.OrderType == "limit" {
			cmd.Price = leg.quote.Last
		}
		out = append(out, cmd)
	}
	return out, nil
}

func (t *ExecutionTranslator) hedge(in models.Intent, now time.Time) models.ExecutionCommand {
	symbol := in.Symbol()
	if symbol == "" {
		symbol = t.hedgeInstrument
	}
	side := models.SideBuy
	if in.Quantity() < 0 {
		side = models.SideSell
	}
	cmd := models.ExecutionCommand{
		IntentID:   in.ID(),
		StrategyID: in.StrategyID(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   math.Abs(in.Quantity()),
		OrderType:  t.params.HedgeOrderType,
		Leg:        models.LegHedge,
		Command:    "create",
		CreatedAt:  now,
	}
	if cmd.OrderType == "limit" {
		cmd.Price = in.ReferencePrice()
	}
	return cmd
}

type atmLeg struct {
	quote  models.OptionQuote
	expiry time.Time
}

// resolveATM picks the nearest expiry and the middle of its sorted unique
// strikes, and returns the call and the put at that strike.
func resolveATM(surface models.VolatilitySurfaceEvent) ([]atmLeg, error) {
	var nearest time.Time
	parsed := make([]time.Time, len(surface.SurfaceData))
	for i, q := range surface.SurfaceData {
		exp, err := util.ParseExpiry(q.Expiry)
		if err != nil {
			continue
		}
		parsed[i] = exp
		if nearest.IsZero() || exp.Before(nearest) {
			nearest = exp
		}
	}
	if nearest.IsZero() {
		return nil, fmt.Errorf("%w: %s has no dated quotes", models.ErrATMUnresolved, surface.Underlying)
	}

	seen := make(map[float64]struct{})
	var strikes []float64
	for i, q := range surface.SurfaceData {
		if !parsed[i].Equal(nearest) {
			continue
		}
		if _, ok := seen[q.Strike]; !ok {
			seen[q.Strike] = struct{}{}
			strikes = append(strikes, q.Strike)
		}
	}
	sort.Float64s(strikes)
	atm := strikes[len(strikes)/2]

	var call, put *atmLeg
	for i, q := range surface.SurfaceData {
		if !parsed[i].Equal(nearest) || q.Strike != atm {
			continue
		}
		leg := atmLeg{quote: q, expiry: nearest}
		switch q.OptionType {
		case "call":
			if call == nil {
				call = &leg
			}
		case "put":
			if put == nil {
				put = &leg
			}
		}
	}
	if call == nil || put == nil {
		return nil, fmt.Errorf("%w: %s strike %.0f lacks a call or a put", models.ErrATMUnresolved, surface.Underlying, atm)
	}
	return []atmLeg{*call, *put}, nil
}
