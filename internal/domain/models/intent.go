package models

import (
	"fmt"
	"time"
)

// IntentKind is the closed set of decisions a strategy can make.
type IntentKind string

const (
	IntentIncreaseLongGamma  IntentKind = "increase_long_gamma"
	IntentIncreaseShortGamma IntentKind = "increase_short_gamma"
	IntentDeltaHedge         IntentKind = "delta_hedge"
	IntentHold               IntentKind = "hold"
)

// Direction of an intent. DirectionNone is only valid for holds.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Reason is the stable reason code attached to every intent.
type Reason string

const (
	ReasonUnderpricedVol  Reason = "market_underpricing_volatility"
	ReasonOverpricedVol   Reason = "market_overpricing_volatility"
	ReasonThresholdNotMet Reason = "threshold_not_met"
	ReasonHighFOMO        Reason = "high_fomo_risk"
	ReasonDeltaNeutral    Reason = "maintain_delta_neutral"
)

// Action is the execution shape implied by the intent.
type Action string

const (
	ActionBuyStraddle  Action = "buy_straddle"
	ActionSellStraddle Action = "sell_straddle"
	ActionDeltaHedge   Action = "delta_hedge"
	ActionNone         Action = "none"
)

// IntentParams are the fields shared by every intent constructor.
type IntentParams struct {
	ID             string
	StrategyID     string
	Symbol         string
	Quantity       float64
	Confidence     float64
	ReferencePrice float64
	Metadata       map[string]interface{}
	CreatedAt      time.Time
}

// Intent is an immutable trading decision. The zero value is not a valid
// intent; use NewGammaIntent, NewHoldIntent, NewDeltaHedgeIntent or
// IntentFromEvent.
type Intent struct {
	id             string
	strategyID     string
	symbol         string
	kind           IntentKind
	direction      Direction
	reason         Reason
	action         Action
	quantity       float64
	confidence     float64
	referencePrice float64
	metadata       map[string]interface{}
	createdAt      time.Time
}

func (p IntentParams) validate() error {
	if p.ID == "" {
		return fmt.Errorf("intent id is required")
	}
	if p.StrategyID == "" {
		return fmt.Errorf("intent %s: strategy id is required", p.ID)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("intent %s: confidence %.4f out of [0,1]", p.ID, p.Confidence)
	}
	return nil
}

func newIntent(p IntentParams, kind IntentKind, dir Direction, reason Reason, action Action) Intent {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return Intent{
		id:             p.ID,
		strategyID:     p.StrategyID,
		symbol:         p.Symbol,
		kind:           kind,
		direction:      dir,
		reason:         reason,
		action:         action,
		quantity:       p.Quantity,
		confidence:     p.Confidence,
		referencePrice: p.ReferencePrice,
		metadata:       copyMetadata(p.Metadata),
		createdAt:      created,
	}
}

// NewGammaIntent builds a straddle intent. Buy means long gamma on
// underpriced volatility, sell means short gamma on overpriced volatility.
func NewGammaIntent(p IntentParams, dir Direction) (Intent, error) {
	if err := p.validate(); err != nil {
		return Intent{}, err
	}
	if p.Quantity <= 0 {
		return Intent{}, fmt.Errorf("intent %s: gamma quantity must be positive", p.ID)
	}
	switch dir {
	case DirectionBuy:
		return newIntent(p, IntentIncreaseLongGamma, dir, ReasonUnderpricedVol, ActionBuyStraddle), nil
	case DirectionSell:
		return newIntent(p, IntentIncreaseShortGamma, dir, ReasonOverpricedVol, ActionSellStraddle), nil
	default:
		return Intent{}, fmt.Errorf("intent %s: gamma intent needs buy or sell, got %q", p.ID, dir)
	}
}

// NewHoldIntent builds a non-actionable intent.
func NewHoldIntent(p IntentParams, reason Reason) (Intent, error) {
	if err := p.validate(); err != nil {
		return Intent{}, err
	}
	if reason != ReasonThresholdNotMet && reason != ReasonHighFOMO {
		return Intent{}, fmt.Errorf("intent %s: reason %q is not a hold reason", p.ID, reason)
	}
	p.Quantity = 0
	return newIntent(p, IntentHold, DirectionNone, reason, ActionNone), nil
}

// NewDeltaHedgeIntent builds a hedge. Quantity is signed: positive buys the
// hedge instrument, negative sells it.
func NewDeltaHedgeIntent(p IntentParams) (Intent, error) {
	if err := p.validate(); err != nil {
		return Intent{}, err
	}
	if p.Symbol == "" {
		return Intent{}, fmt.Errorf("intent %s: hedge instrument is required", p.ID)
	}
	dir := DirectionBuy
	switch {
	case p.Quantity == 0:
		return Intent{}, fmt.Errorf("intent %s: hedge quantity must be non-zero", p.ID)
	case p.Quantity < 0:
		dir = DirectionSell
	}
	return newIntent(p, IntentDeltaHedge, dir, ReasonDeltaNeutral, ActionDeltaHedge), nil
}

func (i Intent) ID() string { return i.id }
func (i Intent) StrategyID() string { return i.strategyID }
func (i Intent) Symbol() string { return i.symbol }
func (i Intent) Kind() IntentKind { return i.kind }
func (i Intent) Direction() Direction { return i.direction }
func (i Intent) Reason() Reason { return i.reason }
func (i Intent) Action() Action { return i.action }
func (i Intent) Quantity() float64 { return i.quantity }
func (i Intent) Confidence() float64 { return i.confidence }
func (i Intent) ReferencePrice() float64 { return i.referencePrice }
func (i Intent) CreatedAt() time.Time { return i.createdAt }

// Metadata returns a copy of the audit inputs.
func (i Intent) Metadata() map[string]interface{} { return copyMetadata(i.metadata) }

// Actionable reports whether the intent may proceed to the risk gate.
func (i Intent) Actionable() bool { return i.direction != DirectionNone }

// IsOption reports whether the intent trades a straddle.
func (i Intent) IsOption() bool {
	return i.kind == IntentIncreaseLongGamma || i.kind == IntentIncreaseShortGamma
}

// SignedQuantity is the quantity with the direction applied.
func (i Intent) SignedQuantity() float64 {
	if i.kind == IntentDeltaHedge {
		return i.quantity
	}
	if i.direction == DirectionSell {
		return -i.quantity
	}
	return i.quantity
}

// Event converts the intent to its wire form.
func (i Intent) Event() StrategyIntentEvent {
	e := StrategyIntentEvent{
		IntentID:       i.id,
		StrategyID:     i.strategyID,
		Symbol:         i.symbol,
		IntentType:     i.kind,
		Action:         i.action,
		Quantity:       i.quantity,
		Confidence:     i.confidence,
		ReferencePrice: i.referencePrice,
		Reason:         i.reason,
		Metadata:       copyMetadata(i.metadata),
		Timestamp:      i.createdAt,
	}
	if i.direction != DirectionNone {
		d := i.direction
		e.Direction = &d
	}
	return e
}

// IntentFromEvent validates a wire intent and rebuilds the closed variant.
// Unknown kinds, foreign reasons and kind/direction mismatches are rejected.
func IntentFromEvent(e StrategyIntentEvent) (Intent, error) {
	p := IntentParams{
		ID:             e.IntentID,
		StrategyID:     e.StrategyID,
		Symbol:         e.Symbol,
		Quantity:       e.Quantity,
		Confidence:     e.Confidence,
		ReferencePrice: e.ReferencePrice,
		Metadata:       e.Metadata,
		CreatedAt:      e.Timestamp,
	}
	dir := DirectionNone
	if e.Direction != nil {
		dir = *e.Direction
	}

	var (
		in  Intent
		err error
	)
	switch e.IntentType {
	case IntentIncreaseLongGamma, IntentIncreaseShortGamma:
		in, err = NewGammaIntent(p, dir)
	case IntentHold:
		if dir != DirectionNone {
			return Intent{}, InvalidEventf("intent %s: hold with direction %q", e.IntentID, dir)
		}
		in, err = NewHoldIntent(p, e.Reason)
	case IntentDeltaHedge:
		in, err = NewDeltaHedgeIntent(p)
	default:
		return Intent{}, InvalidEventf("intent %s: unknown type %q", e.IntentID, e.IntentType)
	}
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if in.kind != e.IntentType || (e.Reason != "" && in.reason != e.Reason) {
		return Intent{}, InvalidEventf("intent %s: %s/%s does not match direction %q", e.IntentID, e.IntentType, e.Reason, dir)
	}
	if in.kind == IntentDeltaHedge && e.Direction != nil && *e.Direction != in.direction {
		return Intent{}, InvalidEventf("intent %s: hedge direction %q contradicts quantity %.6f", e.IntentID, *e.Direction, e.Quantity)
	}
	return in, nil
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
