package models

import (
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

// OptionQuote is one contract on a volatility surface.
type OptionQuote struct {
	Underlying        string  `json:"underlying"`
	Strike            float64 `json:"strike"`
	Expiry            string  `json:"expiry"`
	OptionType        string  `json:"option_type"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Last              float64 `json:"last"`
	Volume            float64 `json:"volume"`
	OpenInterest      float64 `json:"open_interest"`
	ImpliedVolatility float64 `json:"implied_volatility"`
}

// IsCall reports whether the quote is a call.
func (q OptionQuote) IsCall() bool { return q.OptionType == "call" }

// VolatilitySurfaceEvent carries P-vol for an underlying.
type VolatilitySurfaceEvent struct {
	Underlying      string        `json:"underlying"`
	AtmIV           float64       `json:"atm_iv"`
	UnderlyingPrice float64       `json:"underlying_price,omitempty"`
	SurfaceData     []OptionQuote `json:"surface_data,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Root returns the base asset of the surface.
func (e VolatilitySurfaceEvent) Root() string { return util.UnderlyingRoot(e.Underlying) }

// VolatilityForecastEvent carries Q-vol for an underlying.
type VolatilityForecastEvent struct {
	Underlying          string    `json:"underlying"`
	ForecastHorizon     string    `json:"forecast_horizon"`
	PredictedVolatility float64   `json:"predicted_volatility"`
	Confidence          float64   `json:"confidence"`
	ModelVersion        string    `json:"model_version,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// MacroStateEvent is the macro/sentiment broadcast. Sentiment and FOMO are
// null when the feed was unavailable.
type MacroStateEvent struct {
	Symbol         string    `json:"symbol,omitempty"`
	MacroRegime    string    `json:"macro_regime,omitempty"`
	RegimeScore    float64   `json:"regime_score"`
	SentimentScore *float64  `json:"sentiment_score"`
	FOMOScore      *float64  `json:"fomo_score"`
	Timestamp      time.Time `json:"timestamp"`
}

// StrategyIntentEvent is the wire form of Intent.
type StrategyIntentEvent struct {
	IntentID       string                 `json:"intent_id"`
	StrategyID     string                 `json:"strategy_id"`
	Symbol         string                 `json:"symbol"`
	IntentType     IntentKind             `json:"intent_type"`
	Action         Action                 `json:"action"`
	Direction      *Direction             `json:"direction"`
	Quantity       float64                `json:"quantity"`
	Confidence     float64                `json:"confidence"`
	ReferencePrice float64                `json:"reference_price,omitempty"`
	Reason         Reason                 `json:"reason"`
	Metadata       map[string]interface{} `json:"metadata"`
	Timestamp      time.Time              `json:"timestamp"`
}

// StrategySignalEvent is the legacy signal published next to intents.
type StrategySignalEvent struct {
	StrategyID string                 `json:"strategy_id"`
	SignalType string                 `json:"signal_type"`
	Symbol     string                 `json:"symbol"`
	Confidence float64                `json:"confidence"`
	Metadata   map[string]interface{} `json:"metadata"`
	Timestamp  time.Time              `json:"timestamp"`
}

// SignalFromIntent derives the legacy signal.
func SignalFromIntent(in Intent) StrategySignalEvent {
	signal := "hold"
	if in.Actionable() {
		signal = string(in.Direction())
	}
	return StrategySignalEvent{
		StrategyID: in.StrategyID(),
		SignalType: signal,
		Symbol:     in.Symbol(),
		Confidence: in.Confidence(),
		Metadata:   in.Metadata(),
		Timestamp:  in.CreatedAt(),
	}
}

// RiskVerdictEvent is published for every checked intent.
type RiskVerdictEvent struct {
	IntentID   string          `json:"intent_id"`
	StrategyID string          `json:"strategy_id"`
	IntentType IntentKind      `json:"intent_type"`
	Symbol     string          `json:"symbol"`
	Result     RiskCheckResult `json:"result"`
	Replayed   bool            `json:"replayed,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ApprovedIntentEvent hands an approved intent to execution.
type ApprovedIntentEvent struct {
	Intent     StrategyIntentEvent `json:"intent"`
	Verdict    RiskCheckResult     `json:"verdict"`
	ApprovedBy string              `json:"approved_by"`
	Timestamp  time.Time           `json:"timestamp"`
}

// ExecutionRejectedEvent is the audit record of an approved intent that was
// not turned into orders.
type ExecutionRejectedEvent struct {
	IntentID   string    `json:"intent_id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Kind       ErrorKind `json:"kind"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderFillEvent is reported by the order adapter.
type OrderFillEvent struct {
	StrategyID string    `json:"strategy_id"`
	OrderID    string    `json:"order_id"`
	IntentID   string    `json:"intent_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	Timestamp  time.Time `json:"timestamp"`
}

// PositionUpdateEvent follows every applied fill.
type PositionUpdateEvent struct {
	StrategyID    string    `json:"strategy_id"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Timestamp     time.Time `json:"timestamp"`
}

// RiskAlertEvent is raised when a portfolio limit is crossed.
type RiskAlertEvent struct {
	StrategyID     string    `json:"strategy_id"`
	AlertType      string    `json:"alert_type"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
	CurrentValue   float64   `json:"current_value"`
	ThresholdValue float64   `json:"threshold_value"`
	Timestamp      time.Time `json:"timestamp"`
}
