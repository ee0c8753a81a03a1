package models

import "time"

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Leg identifies the part of an intent an order implements.
type Leg string

const (
	LegCall  Leg = "call"
	LegPut   Leg = "put"
	LegHedge Leg = "hedge"
)

// ExecutionCommand is one order instruction. It is also the wire form
// consumed by the order adapter, and is never modified once emitted.
type ExecutionCommand struct {
	IntentID   string    `json:"intent_id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	OrderType  string    `json:"order_type"`
	Price      float64   `json:"price,omitempty"`
	Leg        Leg       `json:"leg"`
	Command    string    `json:"command"`
	CreatedAt  time.Time `json:"timestamp"`
}

// ExecutionCommandEvent is the wire name of ExecutionCommand.
type ExecutionCommandEvent = ExecutionCommand

// SideOf maps an intent direction to an order side.
func SideOf(d Direction) Side {
	if d == DirectionSell {
		return SideSell
	}
	return SideBuy
}
