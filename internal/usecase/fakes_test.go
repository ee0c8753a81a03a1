package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domsvc "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/metrics"
)

// countingMetrics counts error kinds and keeps the last hedge gauge.
type countingMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	errors   map[string]int
	verdicts map[string]int
	breached bool
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: make(map[string]int), verdicts: make(map[string]int)}
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordVerdict(_ bool, reason string) {
	m.mu.Lock()
	m.verdicts[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) SetHedgeBreached(b bool) {
	m.mu.Lock()
	m.breached = b
	m.mu.Unlock()
}

func (m *countingMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *countingMetrics) verdictCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verdicts[reason]
}

type fixedGreeks models.Greeks

func (g fixedGreeks) Greeks(domsvc.OptionContract, time.Time) models.Greeks { return models.Greeks(g) }

type fixedVol struct {
	v  float64
	ok bool
}

func (f fixedVol) RealizedVol([]models.PnLPoint) (float64, bool) { return f.v, f.ok }

type stubSentiment struct {
	v   float64
	err error
}

func (s stubSentiment) Sentiment(context.Context, string) (float64, error) { return s.v, s.err }

// brokenStore fails every balance read.
type brokenStore struct {
	*repository.MemoryPortfolioStore
}

var errStoreDown = errors.New("store down")

func (brokenStore) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, errStoreDown
}

func newStore() *repository.MemoryPortfolioStore {
	return repository.NewMemoryPortfolioStore(decimal.NewFromInt(10000), 100)
}
