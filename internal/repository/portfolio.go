package repository

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domrepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
)

// ApplyFill returns the position and quote balance after fill. Fills that
// grow a position average its price; fills that shrink it keep the average;
// a fill that flips the sign opens at the fill price. Cash moves by the
// traded notional and the fee.
func ApplyFill(pos models.Position, balance decimal.Decimal, fill models.OrderFillEvent) (models.Position, decimal.Decimal) {
	fq := decimal.NewFromFloat(fill.Quantity)
	fp := decimal.NewFromFloat(fill.Price)
	fee := decimal.NewFromFloat(fill.Fee)
	signed := fq
	if fill.Side == models.SideSell {
		signed = fq.Neg()
	}

	q := pos.Quantity
	newQ := q.Add(signed)
	switch {
	case newQ.IsZero():
		// flat: keep the last average for reference
	case q.IsZero() || q.Sign() != newQ.Sign():
		pos.AvgPrice = fp
	case q.Sign() == signed.Sign():
		pos.AvgPrice = q.Abs().Mul(pos.AvgPrice).Add(fq.Mul(fp)).Div(newQ.Abs())
	}
	pos.Symbol = fill.Symbol
	pos.Quantity = newQ
	pos.UpdatedAt = fill.Timestamp

	balance = balance.Sub(signed.Mul(fp)).Sub(fee)
	return pos, balance
}

// MemoryPortfolioStore is an in-process PortfolioStore.
type MemoryPortfolioStore struct {
	mu        sync.RWMutex
	balance   decimal.Decimal
	peak      decimal.Decimal
	positions map[string]models.Position
	pnl       []models.PnLPoint
	maxPnL    int
	seq       uint64
}

var _ domrepo.PortfolioStore = (*MemoryPortfolioStore)(nil)

// NewMemoryPortfolioStore starts with balance as cash and as the equity
// peak. maxPnL bounds the PnL history.
func NewMemoryPortfolioStore(balance decimal.Decimal, maxPnL int) *MemoryPortfolioStore {
	return &MemoryPortfolioStore{
		balance:   balance,
		peak:      balance,
		positions: make(map[string]models.Position),
		maxPnL:    maxPnL,
	}
}

func (s *MemoryPortfolioStore) Balance(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, nil
}

func (s *MemoryPortfolioStore) SetBalance(_ context.Context, v decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = v
	return nil
}

func (s *MemoryPortfolioStore) Positions(context.Context) (map[string]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryPortfolioStore) Position(_ context.Context, symbol string) (models.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return p, ok, nil
}

func (s *MemoryPortfolioStore) ApplyFill(_ context.Context, fill models.OrderFillEvent) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, balance := ApplyFill(s.positions[fill.Symbol], s.balance, fill)
	s.positions[fill.Symbol] = pos
	s.balance = balance
	return pos, nil
}

func (s *MemoryPortfolioStore) Peak(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peak, nil
}

func (s *MemoryPortfolioStore) SetPeak(_ context.Context, v decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peak = v
	return nil
}

func (s *MemoryPortfolioStore) RecordPnL(_ context.Context, p models.PnLPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pnl = append(s.pnl, p)
	if s.maxPnL > 0 && len(s.pnl) > s.maxPnL {
		s.pnl = append([]models.PnLPoint(nil), s.pnl[len(s.pnl)-s.maxPnL:]...)
	}
	return nil
}

// RecentPnL returns up to limit most recent points, oldest first.
func (s *MemoryPortfolioStore) RecentPnL(_ context.Context, limit int) ([]models.PnLPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	from := 0
	if limit > 0 && len(s.pnl) > limit {
		from = len(s.pnl) - limit
	}
	return append([]models.PnLPoint(nil), s.pnl[from:]...), nil
}

func (s *MemoryPortfolioStore) NextSequence(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *MemoryPortfolioStore) Close() error { return nil }
