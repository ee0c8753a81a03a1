package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/cache"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(side models.Side, qty, price float64) models.OrderFillEvent {
	return models.OrderFillEvent{
		StrategyID: "pq_vol_trader",
		OrderID:    "o1",
		Symbol:     "BTC/USDT",
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Timestamp:  t0,
	}
}

func TestApplyFill(t *testing.T) {
	cases := []struct {
		name        string
		qty, avg    string
		fill        models.OrderFillEvent
		wantQty     string
		wantAvg     string
		wantBalance string
	}{
		{"open long", "0", "0", fill(models.SideBuy, 1, 100), "1", "100", "9900"},
		{"add long averages", "1", "100", fill(models.SideBuy, 1, 200), "2", "150", "9800"},
		{"reduce long keeps avg", "2", "150", fill(models.SideSell, 1, 300), "1", "150", "10300"},
		{"open short at fill", "0", "0", fill(models.SideSell, 2, 50), "-2", "50", "10100"},
		{"flip to short", "1", "100", fill(models.SideSell, 3, 120), "-2", "120", "10360"},
		{"close flat", "1", "100", fill(models.SideSell, 1, 110), "0", "100", "10110"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := models.Position{Symbol: "BTC/USDT", Quantity: d(tc.qty), AvgPrice: d(tc.avg)}
			got, bal := ApplyFill(pos, d("10000"), tc.fill)
			assert.True(t, d(tc.wantQty).Equal(got.Quantity), "qty %s", got.Quantity)
			assert.True(t, d(tc.wantAvg).Equal(got.AvgPrice), "avg %s", got.AvgPrice)
			assert.True(t, d(tc.wantBalance).Equal(bal), "balance %s", bal)
		})
	}
}

func TestApplyFillFee(t *testing.T) {
	f := fill(models.SideBuy, 0.1, 100)
	f.Fee = 0.5
	_, bal := ApplyFill(models.Position{}, d("1000"), f)
	assert.True(t, d("989.5").Equal(bal), bal.String())
}

func TestMemoryPortfolioStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPortfolioStore(d("10000"), 3)

	pos, err := s.ApplyFill(ctx, fill(models.SideBuy, 0.5, 20000))
	require.NoError(t, err)
	assert.True(t, d("0.5").Equal(pos.Quantity))

	bal, err := s.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, d("0").Equal(bal))

	got, ok, err := s.Position(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pos, got)

	all, err := s.Positions(ctx)
	require.NoError(t, err)
	delete(all, "BTC/USDT")
	_, ok, _ = s.Position(ctx, "BTC/USDT")
	assert.True(t, ok, "Positions must return a copy")

	peak, err := s.Peak(ctx)
	require.NoError(t, err)
	assert.True(t, d("10000").Equal(peak))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordPnL(ctx, models.PnLPoint{TotalValue: float64(i), Timestamp: t0.Add(time.Duration(i) * time.Minute)}))
	}
	pts, err := s.RecentPnL(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 3.0, pts[0].TotalValue)
	assert.Equal(t, 4.0, pts[1].TotalValue)

	pts, err = s.RecentPnL(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pts, 3)
}

type fakeExec struct {
	queries []string
	args    [][]interface{}
	fail    error
}

func (f *fakeExec) ExecContext(_ context.Context, q string, args ...interface{}) (sql.Result, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.queries = append(f.queries, q)
	f.args = append(f.args, args)
	return nil, nil
}

func TestClickHouseAuditStoreBatches(t *testing.T) {
	ctx := context.Background()
	db := &fakeExec{}
	s := newAuditStore(db, "glm", 2, nil)

	require.NoError(t, s.Init(ctx))
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS glm.pipeline_audit")

	require.NoError(t, s.SaveIntent(ctx, models.StrategyIntentEvent{IntentID: "i1", StrategyID: "s", IntentType: models.IntentIncreaseLongGamma, Timestamp: t0}))
	assert.Equal(t, 1, s.Pending())
	require.NoError(t, s.SaveVerdict(ctx, models.RiskVerdictEvent{IntentID: "i1", StrategyID: "s", Result: models.RiskCheckResult{Approved: true, Reason: models.RiskApproved}, Timestamp: t0}))
	assert.Equal(t, 0, s.Pending())

	require.Len(t, db.queries, 2)
	assert.True(t, strings.HasPrefix(db.queries[1], "INSERT INTO glm.pipeline_audit"))
	assert.Len(t, db.args[1], 16)
	assert.Equal(t, "approved", db.args[1][13])

	require.NoError(t, s.SaveRejection(ctx, models.ExecutionRejectedEvent{IntentID: "i2", Kind: models.KindStaleSurface}))
	require.NoError(t, s.Close())
	assert.Len(t, db.queries, 3)
}

func TestClickHouseAuditStoreKeepsBufferOnFailure(t *testing.T) {
	ctx := context.Background()
	db := &fakeExec{fail: errors.New("connection refused")}
	s := newAuditStore(db, "glm", 1, nil)

	require.NoError(t, s.SaveCommand(ctx, models.ExecutionCommand{IntentID: "i", Side: models.SideBuy, Leg: models.LegHedge}))
	assert.Equal(t, 1, s.Pending())
	assert.Error(t, s.Flush(ctx))

	db.fail = nil
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 0, s.Pending())
}

func TestCacheStores(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	vs := NewCacheVerdictStore(mc, time.Hour)
	_, found, err := vs.Get(ctx, "i1", "fp")
	require.NoError(t, err)
	assert.False(t, found)

	want := models.RiskCheckResult{Approved: false, Reason: models.RiskLeverageExceeded, ProjectedLeverage: 3.2}
	require.NoError(t, vs.Put(ctx, "i1", "fp", want))
	got, found, err := vs.Get(ctx, "i1", "fp")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	_, found, err = vs.Get(ctx, "i1", "other")
	require.NoError(t, err)
	assert.False(t, found)

}

func TestCacheDeduperLeaseAndDone(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	dd := NewCacheDeduper(mc, "exec:intent", 50*time.Millisecond, time.Hour)

	ok, err := dd.Claim(ctx, "i1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, dd.Complete(ctx, "i1"))
	ok, err = dd.Claim(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, ok, "done ids are never claimed again")

	ok, err = dd.Claim(ctx, "i2")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, dd.Release(ctx, "i2"))
	ok, err = dd.Claim(ctx, "i2")
	require.NoError(t, err)
	assert.True(t, ok, "a released lease can be claimed by the retry")
}

func TestCacheDeduperRecoversLeaseOfCrashedWorker(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	dd := NewCacheDeduper(mc, "portfolio:fill", 50*time.Millisecond, time.Hour)

	ok, err := dd.Claim(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)

	// The first worker never completes. The redelivery waits out the lease.
	start := time.Now()
	ok, err = dd.Claim(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	_, err = dd.Claim(short, "o1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStoreSequenceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPortfolioStore(d("10000"), 3)
	for want := uint64(1); want <= 3; want++ {
		got, err := s.NextSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
