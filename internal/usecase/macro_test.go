package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
)

func TestInferMacroState(t *testing.T) {
	none := models.Optional{}
	tests := []struct {
		name   string
		rvol   models.Optional
		sent   models.Optional
		regime models.MacroRegime
		score  float64
	}{
		{"panic", models.Some(0.9), models.Some(-0.8), models.RegimePanic, 0.9},
		{"high vol bull", models.Some(0.9), models.Some(0.8), models.RegimeHighVolBull, 0.9},
		{"bull", models.Some(0.3), models.Some(0.5), models.RegimeBull, 0.65},
		{"bear capped", models.Some(0.6), models.Some(-0.5), models.RegimeBear, 1},
		{"chop", models.Some(0.3), models.Some(0), models.RegimeChop, 0.5},
		{"high vol neutral", models.Some(0.9), models.Some(0), models.RegimeUnknown, 0.1},
		{"high vol mildly bullish", models.Some(0.9), models.Some(0.5), models.RegimeUnknown, 0.1},
		{"low vol bearish", models.Some(0.3), models.Some(-0.5), models.RegimeUnknown, 0.1},
		{"nothing known", none, none, models.RegimeChop, 0.6},
		{"mid vol euphoric", models.Some(0.5), models.Some(0.9), models.RegimeUnknown, 0.1},
		{"mid vol capitulating", models.Some(0.5), models.Some(-0.9), models.RegimeUnknown, 0.1},
		{"bull at upper bound", models.Some(0.2), models.Some(0.7), models.RegimeBull, 0.8},
		{"bear at lower bound", models.Some(0.5), models.Some(-0.7), models.RegimeBear, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regime, score := InferMacroState(tt.rvol, tt.sent)
			assert.Equal(t, tt.regime, regime)
			assert.InDelta(t, tt.score, score, 1e-9)
		})
	}
}

func TestFOMOScore(t *testing.T) {
	f := FOMOScore(models.Some(0.5), models.Some(0.5))
	require.True(t, f.Known)
	assert.InDelta(t, 0.5, f.Value, 1e-9)

	assert.Equal(t, models.Some(0), FOMOScore(models.Some(0.1), models.Some(-1)))
	assert.Equal(t, models.Some(1), FOMOScore(models.Some(1.5), models.Some(1)))
	assert.False(t, FOMOScore(models.Optional{}, models.Some(0.5)).Known)
	assert.False(t, FOMOScore(models.Some(0.5), models.Optional{}).Known)
}

func TestMacroBroadcastPublishes(t *testing.T) {
	pub := newRecordingPublisher()
	m := NewMacroBroadcaster(stubSentiment{v: 0.8}, newStore(), fixedVol{v: 0.9, ok: true}, pub, nopMetrics, nil, "BTC", 0, 10, newClock().Now)

	ev, err := m.Broadcast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "high_vol_bull", ev.MacroRegime)
	require.NotNil(t, ev.FOMOScore)
	assert.InDelta(t, 0.84, *ev.FOMOScore, 1e-9)

	msgs := pub.on(models.TopicMacroState)
	require.Len(t, msgs, 1)
	assert.Equal(t, "macro", msgs[0].Key)
	got := decodeAll[models.MacroStateEvent](t, msgs)[0]
	require.NotNil(t, got.SentimentScore)
	assert.Equal(t, 0.8, *got.SentimentScore)
	assert.Equal(t, t0, got.Timestamp)
}

func TestMacroBroadcastWithoutSentiment(t *testing.T) {
	pub := newRecordingPublisher()
	cm := newCountingMetrics()
	m := NewMacroBroadcaster(stubSentiment{err: errors.New("connection refused")}, newStore(), fixedVol{v: 0.9, ok: true}, pub, cm, nil, "BTC", 0, 10, newClock().Now)

	ev, err := m.Broadcast(context.Background())
	require.NoError(t, err, "a sentiment outage is not a broadcast failure")
	assert.Nil(t, ev.SentimentScore)
	assert.Nil(t, ev.FOMOScore)
	assert.Equal(t, "unknown", ev.MacroRegime)
	assert.Equal(t, 1, cm.errorCount(string(models.KindTransientUpstream)))
	assert.Len(t, pub.on(models.TopicMacroState), 1)
}

func TestMacroBroadcastPublishFailure(t *testing.T) {
	pub := newRecordingPublisher()
	pub.failTopic(models.TopicMacroState, errors.New("broker down"))
	cm := newCountingMetrics()
	m := NewMacroBroadcaster(nil, newStore(), fixedVol{}, pub, cm, nil, "BTC", 0, 10, nil)

	_, err := m.Broadcast(context.Background())
	require.Error(t, err)

	m.Tick(context.Background())
	assert.Equal(t, 1, cm.errorCount(string(models.KindInfrastructure)))
}
