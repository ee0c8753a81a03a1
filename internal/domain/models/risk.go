package models

// RiskReason is the outcome code of a risk check.
type RiskReason string

const (
	RiskApproved         RiskReason = "approved"
	RiskDrawdownExceeded RiskReason = "drawdown_exceeded"
	RiskPositionLimit    RiskReason = "position_limit_exceeded"
	RiskLeverageExceeded RiskReason = "leverage_exceeded"
	RiskPriceUnavailable RiskReason = "price_unavailable"
	RiskSnapshotMissing  RiskReason = "portfolio_snapshot_missing"
)

// RiskCheckResult is the verdict for one intent under one snapshot.
type RiskCheckResult struct {
	Approved             bool       `json:"approved"`
	Reason               RiskReason `json:"reason"`
	ProjectedLeverage    float64    `json:"projected_leverage"`
	ProjectedDelta       float64    `json:"projected_delta"`
	ProjectedPositionPct float64    `json:"projected_position_pct"`
	SnapshotSequence     uint64     `json:"snapshot_sequence"`
	SnapshotFingerprint  string     `json:"snapshot_fingerprint"`
}
