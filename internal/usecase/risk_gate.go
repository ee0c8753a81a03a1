package usecase

import (
	"math"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

// RiskGate is the pre-order veto. Check is deterministic in
// (intent, snapshot), which makes redelivered intents safe.
type RiskGate struct {
	params config.RiskParams
}

// NewRiskGate creates a gate with fixed limits.
func NewRiskGate(params config.RiskParams) *RiskGate {
	return &RiskGate{params: params}
}

// Check runs drawdown, position-limit and leverage checks in that order and
// stops at the first failure.
func (g *RiskGate) Check(in models.Intent, snap models.PortfolioRiskSnapshot) models.RiskCheckResult {
	res := models.RiskCheckResult{
		ProjectedLeverage:    snap.Leverage,
		ProjectedDelta:       snap.TotalDelta,
		ProjectedPositionPct: snap.PositionRatio,
		SnapshotSequence:     snap.Sequence,
		SnapshotFingerprint:  snap.Fingerprint(),
	}

	if snap.DrawdownPct > g.params.MaxDrawdownPct {
		return veto(res, models.RiskDrawdownExceeded)
	}
	if snap.PositionRatio > g.params.MaxPositionRatio {
		return veto(res, models.RiskPositionLimit)
	}

	root := util.UnderlyingRoot(in.Symbol())
	price := in.ReferencePrice()
	if price <= 0 {
		price = snap.Mark(root)
	}
	if price <= 0 {
		return veto(res, models.RiskPriceUnavailable)
	}

	signedNotional := in.SignedQuantity() * price
	if in.Kind() == models.IntentDeltaHedge {
		res.ProjectedDelta = snap.TotalDelta + in.Quantity()
	}

	if snap.Equity <= 0 {
		if snap.GrossNotional == 0 && len(snap.Exposures) == 0 {
			// no assets, no leverage limit
			res.ProjectedLeverage = 0
			res.ProjectedPositionPct = 0
			res.Approved = true
			res.Reason = models.RiskApproved
			return res
		}
		return veto(res, models.RiskPositionLimit)
	}

	res.ProjectedPositionPct = math.Abs(snap.Exposure(root)+signedNotional) / snap.Equity
	if res.ProjectedPositionPct > g.params.MaxSinglePositionPct {
		return veto(res, models.RiskPositionLimit)
	}

	res.ProjectedLeverage = (snap.GrossNotional + math.Abs(signedNotional)) / snap.Equity
	if res.ProjectedLeverage > g.params.MaxLeverage {
		return veto(res, models.RiskLeverageExceeded)
	}

	res.Approved = true
	res.Reason = models.RiskApproved
	return res
}

func veto(res models.RiskCheckResult, reason models.RiskReason) models.RiskCheckResult {
	res.Approved = false
	res.Reason = reason
	return res
}
