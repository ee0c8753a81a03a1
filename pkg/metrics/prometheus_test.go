package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordVerdict(true, "approved")
	r.RecordVerdict(false, "leverage_exceeded")
	r.RecordVerdict(false, "leverage_exceeded")
	r.RecordIntent("pq_vol_trader", "increase_long_gamma", "market_underpricing_volatility")
	r.SetHedgeBreached(true)
	r.RecordPortfolio(0.12, 0.01, 1.5, 0.05)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.verdicts.WithLabelValues("approved", "approved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.verdicts.WithLabelValues("vetoed", "leverage_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.intents.WithLabelValues("pq_vol_trader", "increase_long_gamma", "market_underpricing_volatility")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.hedgeState))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.portfolio.WithLabelValues("leverage")))
}

func TestTwoRecordersOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegisterer(prometheus.NewRegistry())
		NewWithRegisterer(prometheus.NewRegistry())
	})
}
