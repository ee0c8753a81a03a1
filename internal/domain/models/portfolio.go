package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Position is one holding in the portfolio store.
type Position struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PnLPoint is one sample of total portfolio value.
type PnLPoint struct {
	TotalValue float64   `json:"total_value"`
	Timestamp  time.Time `json:"timestamp"`
}

// Greeks of one position or of the whole book.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Add returns g + o.
func (g Greeks) Add(o Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + o.Delta,
		Gamma: g.Gamma + o.Gamma,
		Theta: g.Theta + o.Theta,
		Vega:  g.Vega + o.Vega,
		Rho:   g.Rho + o.Rho,
	}
}

// Scale returns g * k.
func (g Greeks) Scale(k float64) Greeks {
	return Greeks{Delta: g.Delta * k, Gamma: g.Gamma * k, Theta: g.Theta * k, Vega: g.Vega * k, Rho: g.Rho * k}
}

// PortfolioRiskSnapshot is the portfolio-wide risk broadcast. It has a single
// writer and is never modified after publication.
type PortfolioRiskSnapshot struct {
	Epoch         uint64             `json:"epoch,omitempty"`
	Sequence      uint64             `json:"sequence"`
	TotalDelta    float64            `json:"total_delta"`
	TotalGamma    float64            `json:"total_gamma"`
	TotalVega     float64            `json:"total_vega"`
	TotalTheta    float64            `json:"total_theta"`
	TotalRho      float64            `json:"total_rho"`
	Leverage      float64            `json:"leverage"`
	PositionRatio float64            `json:"position_ratio"`
	DrawdownPct   float64            `json:"drawdown_pct"`
	Equity        float64            `json:"equity"`
	GrossNotional float64            `json:"gross_notional"`
	Exposures     map[string]float64 `json:"exposures,omitempty"`
	Marks         map[string]float64 `json:"marks,omitempty"`
	RealizedVol   *float64           `json:"realized_vol,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// SnapshotOrder places a snapshot in the broadcast stream. Epoch is the
// broadcaster's start time in milliseconds, so a restarted broadcaster
// outranks everything its previous run published.
type SnapshotOrder struct {
	Epoch    uint64 `json:"epoch"`
	Sequence uint64 `json:"sequence"`
}

// Less reports whether o was published before p.
func (o SnapshotOrder) Less(p SnapshotOrder) bool {
	if o.Epoch != p.Epoch {
		return o.Epoch < p.Epoch
	}
	return o.Sequence < p.Sequence
}

func (s PortfolioRiskSnapshot) Order() SnapshotOrder {
	return SnapshotOrder{Epoch: s.Epoch, Sequence: s.Sequence}
}

// Sequenced is false for hand-built snapshots, which readers never treat
// as stale.
func (s PortfolioRiskSnapshot) Sequenced() bool { return s.Sequence != 0 }

// PortfolioRiskEvent is the wire name of the snapshot.
type PortfolioRiskEvent = PortfolioRiskSnapshot

// Fingerprint identifies the snapshot contents. encoding/json sorts map keys,
// so equal snapshots hash equally.
func (s PortfolioRiskSnapshot) Fingerprint() string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Figures extracts what strategies keep from a snapshot.
func (s PortfolioRiskSnapshot) Figures() RiskFigures {
	return RiskFigures{
		TotalDelta:  s.TotalDelta,
		TotalGamma:  s.TotalGamma,
		Leverage:    s.Leverage,
		DrawdownPct: s.DrawdownPct,
		Known:       true,
	}
}

// Exposure returns the signed notional held on an underlying root.
func (s PortfolioRiskSnapshot) Exposure(root string) float64 { return s.Exposures[root] }

// Mark returns the last mark of an underlying root, or 0.
func (s PortfolioRiskSnapshot) Mark(root string) float64 { return s.Marks[root] }
