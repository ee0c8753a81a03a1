package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/metrics"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type published struct {
	Topic   string
	Key     string
	TraceID string
	Data    []byte
}

// recordingPublisher keeps everything published and can be told to fail.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	fail map[string]error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{fail: make(map[string]error)}
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[topic]; err != nil {
		return err
	}
	data, err := bus.Encode(value)
	if err != nil {
		return err
	}
	p.msgs = append(p.msgs, published{Topic: topic, Key: string(key), TraceID: bus.TraceID(ctx), Data: data})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) failTopic(topic string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, topic)
		return
	}
	p.fail[topic] = err
}

func (p *recordingPublisher) on(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func decodeAll[T any](t *testing.T, msgs []published) []T {
	t.Helper()
	out := make([]T, 0, len(msgs))
	for _, m := range msgs {
		var v T
		require.NoError(t, json.Unmarshal(m.Data, &v))
		out = append(out, v)
	}
	return out
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

var nopMetrics = metrics.Nop{}

func testTrading() config.Trading {
	tr := config.DefaultTrading()
	tr.Strategy.VolThreshold = 0.05
	tr.Strategy.MaxFOMOScore = 0.7
	tr.Strategy.MaxPositionSize = 1.0
	tr.Strategy.IntentBaseSize = 0.1
	tr.Strategy.SignalCooldownSeconds = 3600
	tr.Strategy.Instances = []config.StrategyInstance{{ID: "pq_vol_trader", Underlying: "BTC/USDT"}}
	tr.Risk.MaxLeverage = 4.0
	tr.Risk.MaxDrawdownPct = 0.2
	tr.Risk.MaxPositionRatio = 0.8
	tr.Risk.MaxSinglePositionPct = 0.5
	tr.Hedge.DeltaThreshold = 0.05
	tr.Hedge.HedgeInstrument = "BTC/USDT:USDT"
	tr.Hedge.RebalanceInterval = time.Minute
	tr.Hedge.StrategyID = "delta_hedger"
	tr.Execution.SurfaceMaxAge = 2 * time.Minute
	tr.Execution.DedupTTL = time.Hour
	tr.Execution.OptionOrderType = "limit"
	tr.Execution.HedgeOrderType = "market"
	return tr
}

func marketState(pVol, qVol float64, fomo models.Optional) models.MarketState {
	return models.MarketState{
		StrategyID:      "pq_vol_trader",
		Underlying:      "BTC/USDT",
		PVol:            pVol,
		QVol:            qVol,
		UnderlyingPrice: 50000,
		MacroRegime:     models.RegimeBull,
		RegimeScore:     0.6,
		FOMO:            fomo,
		AsOf:            t0,
	}
}

func testSurface(ts time.Time) models.VolatilitySurfaceEvent {
	quote := func(expiry string, strike float64, typ string, last float64) models.OptionQuote {
		return models.OptionQuote{Underlying: "BTC/USDT", Strike: strike, Expiry: expiry, OptionType: typ, Last: last, ImpliedVolatility: 0.6}
	}
	return models.VolatilitySurfaceEvent{
		Underlying:      "BTC/USDT",
		AtmIV:           0.60,
		UnderlyingPrice: 50000,
		SurfaceData: []models.OptionQuote{
			quote("2025-06-27", 50000, "call", 4000),
			quote("2025-03-28", 45000, "call", 5600),
			quote("2025-03-28", 50000, "call", 1900),
			quote("2025-03-28", 50000, "put", 1800),
			quote("2025-03-28", 55000, "put", 5200),
			quote("2025-03-28", 45000, "put", 350),
			quote("2025-03-28", 55000, "call", 420),
		},
		Timestamp: ts,
	}
}
