package models

import (
	"strings"
	"time"
)

// Optional is a scalar that may be absent.
type Optional struct {
	Value float64
	Known bool
}

// Some returns a known Optional.
func Some(v float64) Optional { return Optional{Value: v, Known: true} }

// OptionalFrom converts a nullable wire field.
func OptionalFrom(p *float64) Optional {
	if p == nil {
		return Optional{}
	}
	return Some(*p)
}

// Ptr converts back to a nullable wire field.
func (o Optional) Ptr() *float64 {
	if !o.Known {
		return nil
	}
	v := o.Value
	return &v
}

// MacroRegime is a coarse market-cycle label.
type MacroRegime string

const (
	RegimeBull        MacroRegime = "bull"
	RegimeBear        MacroRegime = "bear"
	RegimePanic       MacroRegime = "panic"
	RegimeHighVolBull MacroRegime = "high_vol_bull"
	RegimeChop        MacroRegime = "chop"
	RegimeUnknown     MacroRegime = "unknown"
)

// ParseMacroRegime maps unrecognised labels to RegimeUnknown.
func ParseMacroRegime(s string) MacroRegime {
	switch r := MacroRegime(strings.ToLower(strings.TrimSpace(s))); r {
	case RegimeBull, RegimeBear, RegimePanic, RegimeHighVolBull, RegimeChop:
		return r
	default:
		return RegimeUnknown
	}
}

// RiskFigures is the part of the latest portfolio snapshot a strategy sees.
type RiskFigures struct {
	TotalDelta  float64
	TotalGamma  float64
	Leverage    float64
	DrawdownPct float64
	Known       bool
}

// MarketState is one strategy's merged view of the market. It is a plain
// value; a new one is built for every relevant event.
type MarketState struct {
	StrategyID      string
	Underlying      string
	PVol            float64
	QVol            float64
	UnderlyingPrice float64
	MacroRegime     MacroRegime
	RegimeScore     float64
	Sentiment       Optional
	FOMO            Optional
	Risk            RiskFigures
	CurrentPosition float64
	AsOf            time.Time
}

// Spread is Q-vol minus P-vol.
func (s MarketState) Spread() float64 { return s.QVol - s.PVol }
