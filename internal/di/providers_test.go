package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/usecase"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/metrics"
)

const memoryConfig = `
environment: test
trading:
  strategy:
    instances:
      - id: pq_vol_trader
        underlying: BTC/USDT
`

func TestOptionalInfrastructureIsSkipped(t *testing.T) {
	cfg, err := config.Parse([]byte(memoryConfig))
	require.NoError(t, err)

	rdb, err := ProvideRedisClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, rdb)

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)

	audit, err := ProvideAuditStore(cfg, ch, nil)
	require.NoError(t, err)
	assert.Nil(t, audit)
	assert.Nil(t, ProvideSentiment(cfg))
}

func TestMemoryGraphRoutesFillToHedgeMonitor(t *testing.T) {
	cfg, err := config.Parse([]byte(memoryConfig))
	require.NoError(t, err)
	log := logger.Nop()
	m := metrics.Nop{}

	tr, err := ProvideTransport(cfg, log, m, nil)
	require.NoError(t, err)
	mb, ok := tr.Publisher.(*bus.MemoryBus)
	require.True(t, ok)
	pub := ProvidePublisher(tr)

	c := ProvideCache(cfg, nil)
	store, err := ProvidePortfolioStore(cfg, nil)
	require.NoError(t, err)
	broadcaster := ProvideRiskBroadcaster(cfg, store, ProvideGreeks(cfg), ProvideVolEstimator(), pub, m, log)
	runners := ProvideStrategyRunners(cfg, pub, m, log)
	hedge := ProvideHedgeHandler(cfg, pub, m, log)

	groups, err := ProvideGroups(tr, m, log, runners,
		ProvideRiskHandler(cfg, c, pub, m, log),
		hedge,
		ProvideExecutionHandler(cfg, c, pub, m, log),
		ProvidePortfolioHandler(cfg, store, broadcaster, c, pub, m, log),
		nil,
		ProvideOutcomeHub(log),
	)
	require.NoError(t, err)

	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
		require.NoError(t, g.Subscriber.Start())
		sub := g.Subscriber
		t.Cleanup(func() { _ = sub.Stop(context.Background()) })
	}
	assert.Equal(t, []string{GroupStrategy, GroupRisk, GroupHedge, GroupExecution, GroupPortfolio, GroupOps}, names)
	assert.Len(t, ProvideJobs(cfg, broadcaster, nil, nil, log), 2)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, models.TopicOrderFill, []byte("manual"), models.OrderFillEvent{
		StrategyID: "manual", OrderID: "spot-1", Symbol: "BTC/USDT",
		Side: models.SideBuy, Quantity: 0.12, Price: 50000, Timestamp: time.Now().UTC(),
	}))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, mb.WaitIdle(waitCtx))

	snap, ok := broadcaster.Latest()
	require.True(t, ok)
	assert.InDelta(t, 0.12, snap.TotalDelta, 1e-9)
	assert.Equal(t, usecase.HedgeBreached, hedge.Monitor().State())
}
