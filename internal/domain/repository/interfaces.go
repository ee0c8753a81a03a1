package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
)

// PortfolioStore holds balances, positions and the PnL history. The risk
// broadcaster is its only reader for risk purposes.
type PortfolioStore interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	SetBalance(ctx context.Context, v decimal.Decimal) error
	Positions(ctx context.Context) (map[string]models.Position, error)
	Position(ctx context.Context, symbol string) (models.Position, bool, error)
	// ApplyFill updates the position and the quote balance atomically and
	// returns the new position.
	ApplyFill(ctx context.Context, fill models.OrderFillEvent) (models.Position, error)
	Peak(ctx context.Context) (decimal.Decimal, error)
	SetPeak(ctx context.Context, v decimal.Decimal) error
	RecordPnL(ctx context.Context, p models.PnLPoint) error
	RecentPnL(ctx context.Context, limit int) ([]models.PnLPoint, error)
	// NextSequence reserves the next risk snapshot sequence number. Durable
	// stores keep counting across broadcaster restarts.
	NextSequence(ctx context.Context) (uint64, error)
	Close() error
}

// AuditStore persists pipeline outcomes for replay and reporting.
type AuditStore interface {
	Init(ctx context.Context) error
	SaveIntent(ctx context.Context, e models.StrategyIntentEvent) error
	SaveVerdict(ctx context.Context, e models.RiskVerdictEvent) error
	SaveRejection(ctx context.Context, e models.ExecutionRejectedEvent) error
	SaveCommand(ctx context.Context, c models.ExecutionCommand) error
	Flush(ctx context.Context) error
	Close() error
}

// VerdictStore remembers verdicts by (intent id, snapshot fingerprint).
type VerdictStore interface {
	Get(ctx context.Context, intentID, fingerprint string) (models.RiskCheckResult, bool, error)
	Put(ctx context.Context, intentID, fingerprint string, r models.RiskCheckResult) error
}

// Deduper guards work that must happen once per id. Claim takes a short
// lease and reports false once the id is done; Complete records the id as
// done; Release gives up the lease so a redelivery can claim it.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type Metrics interface {
	RecordIntent(strategyID, kind, reason string)
	RecordVerdict(approved bool, reason string)
	RecordCommand(leg string)
	RecordRejection(reason string)
	RecordError(kind string)
	SetHedgeBreached(breached bool)
	RecordPortfolio(delta, gamma, leverage, drawdown float64)
	RecordLatency(op string, seconds float64)
}
