package usecase

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/util"
)

// HedgeState is the delta band the portfolio is in.
type HedgeState string

const (
	HedgeNeutral  HedgeState = "neutral"
	HedgeBreached HedgeState = "breached"
)

// HedgeStatus is a point-in-time view of the monitor for ops.
type HedgeStatus struct {
	State        HedgeState `json:"state"`
	LastDelta    float64    `json:"last_delta"`
	LastEpoch    uint64     `json:"last_epoch"`
	LastSequence uint64     `json:"last_sequence"`
	LastHedgeAt  *time.Time `json:"last_hedge_at,omitempty"`
	Threshold    float64    `json:"threshold"`
}

// HedgeMonitor reacts to risk snapshots with delta_hedge intents. Entering
// Breached emits immediately; staying Breached re-emits only after the
// rebalance interval; returning to Neutral is silent.
type HedgeMonitor struct {
	params config.HedgeParams
	newID  func() string

	mu       sync.Mutex
	state    HedgeState
	cooldown *Cooldown
	last     models.SnapshotOrder
	lastDlt  float64
}

// NewHedgeMonitor starts in Neutral. A nil newID uses random UUIDs.
func NewHedgeMonitor(params config.HedgeParams, newID func() string) *HedgeMonitor {
	if newID == nil {
		newID = uuid.NewString
	}
	return &HedgeMonitor{
		params:   params,
		newID:    newID,
		state:    HedgeNeutral,
		cooldown: NewCooldown(params.RebalanceInterval),
	}
}

// Observe feeds one snapshot. Snapshots older than the last one seen are
// ignored so redelivery cannot re-trigger a hedge.
func (m *HedgeMonitor) Observe(snap models.PortfolioRiskSnapshot, now time.Time) (models.Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Sequenced() {
		if !m.last.Less(snap.Order()) {
			return models.Intent{}, false
		}
		m.last = snap.Order()
	}
	m.lastDlt = snap.TotalDelta

	// A delta sitting exactly on the threshold already needs a hedge.
	if math.Abs(snap.TotalDelta) < m.params.DeltaThreshold {
		m.state = HedgeNeutral
		return models.Intent{}, false
	}

	if m.state == HedgeBreached && !m.cooldown.Ready(now) {
		return models.Intent{}, false
	}
	m.state = HedgeBreached

	hedgeQty := -snap.TotalDelta
	in, err := models.NewDeltaHedgeIntent(models.IntentParams{
		ID:             m.newID(),
		StrategyID:     m.params.StrategyID,
		Symbol:         m.params.HedgeInstrument,
		Quantity:       hedgeQty,
		Confidence:     1,
		ReferencePrice: snap.Mark(util.UnderlyingRoot(m.params.HedgeInstrument)),
		Metadata: map[string]interface{}{
			"total_delta":       snap.TotalDelta,
			"delta_threshold":   m.params.DeltaThreshold,
			"hedge_quantity":    math.Abs(hedgeQty),
			"snapshot_sequence": snap.Sequence,
		},
		CreatedAt: now,
	})
	if err != nil {
		return models.Intent{}, false
	}
	m.cooldown.Mark(now)
	return in, true
}

// State returns the current band.
func (m *HedgeMonitor) State() HedgeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current band with the last observation.
func (m *HedgeMonitor) Status() HedgeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := HedgeStatus{
		State:        m.state,
		LastDelta:    m.lastDlt,
		LastEpoch:    m.last.Epoch,
		LastSequence: m.last.Sequence,
		Threshold:    m.params.DeltaThreshold,
	}
	if last, ok := m.cooldown.Last(); ok {
		st.LastHedgeAt = &last
	}
	return st
}
