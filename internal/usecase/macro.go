package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	domsvc "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

const (
	highVolLevel = 0.8
	lowVolLevel  = 0.4
	strongSent   = 0.7
	mildSent     = 0.3
)

// InferMacroState labels the market cycle from realized volatility and
// sentiment. Unknown inputs fall back to a mid volatility and a neutral mood.
func InferMacroState(rvol, sent models.Optional) (models.MacroRegime, float64) {
	vol := lowVolLevel
	if rvol.Known {
		vol = rvol.Value
	}
	s := 0.0
	if sent.Known {
		s = sent.Value
	}

	high := vol > highVolLevel
	low := vol <= lowVolLevel
	mid := !high && !low
	// Bull and bear are bounded bands; beyond strongSent only a high
	// volatility regime claims the reading.
	bullish := s > mildSent && s <= strongSent
	bearish := s >= -strongSent && s < -mildSent
	neutral := s >= -mildSent && s <= mildSent

	switch {
	case high && s < -strongSent:
		return models.RegimePanic, math.Min(1, (vol-highVolLevel)+math.Abs(s))
	case high && s > strongSent:
		return models.RegimeHighVolBull, math.Min(1, (vol-highVolLevel)+s)
	case (low || mid) && bullish:
		return models.RegimeBull, math.Min(1, 0.5*vol+s)
	case (mid || high) && bearish:
		return models.RegimeBear, math.Min(1, vol+math.Abs(s))
	case low && neutral:
		return models.RegimeChop, math.Min(1, 0.2+vol)
	}
	return models.RegimeUnknown, 0.1
}

// FOMOScore is clamp(0.6*sentiment + 0.4*realized vol, 0, 1), known only
// when both inputs are.
func FOMOScore(rvol, sent models.Optional) models.Optional {
	if !rvol.Known || !sent.Known {
		return models.Optional{}
	}
	return models.Some(math.Max(0, math.Min(1, 0.6*sent.Value+0.4*rvol.Value)))
}

// MacroBroadcaster periodically publishes the macro/sentiment state.
type MacroBroadcaster struct {
	sentiment domsvc.SentimentProvider
	store     drepo.PortfolioStore
	vol       domsvc.VolatilityEstimator
	pub       bus.Publisher
	metrics   drepo.Metrics
	log       *logger.Logger
	query     string
	timeout   time.Duration
	window    int
	now       func() time.Time
}

// NewMacroBroadcaster creates a broadcaster. A nil sentiment provider
// publishes with sentiment absent.
func NewMacroBroadcaster(
	sentiment domsvc.SentimentProvider,
	store drepo.PortfolioStore,
	vol domsvc.VolatilityEstimator,
	pub bus.Publisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	query string,
	timeout time.Duration,
	window int,
	now func() time.Time,
) *MacroBroadcaster {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MacroBroadcaster{
		sentiment: sentiment,
		store:     store,
		vol:       vol,
		pub:       pub,
		metrics:   metrics,
		log:       log.With(logger.String("component", "macro_broadcaster")),
		query:     query,
		timeout:   timeout,
		window:    window,
		now:       now,
	}
}

// Tick is the scheduled entry point.
func (m *MacroBroadcaster) Tick(ctx context.Context) {
	if _, err := m.Broadcast(ctx); err != nil {
		m.metrics.RecordError(string(models.Classify(err)))
		m.log.Error("macro broadcast failed", logger.Error(err))
	}
}

// Broadcast computes and publishes one MacroStateEvent. A sentiment failure
// is not an error: the event goes out with sentiment and FOMO null.
func (m *MacroBroadcaster) Broadcast(ctx context.Context) (models.MacroStateEvent, error) {
	sent := m.fetchSentiment(ctx)

	history, err := m.store.RecentPnL(ctx, m.window)
	if err != nil {
		return models.MacroStateEvent{}, fmt.Errorf("read pnl history: %w", err)
	}
	var rvol models.Optional
	if v, ok := m.vol.RealizedVol(history); ok {
		rvol = models.Some(v)
	}

	regime, score := InferMacroState(rvol, sent)
	event := models.MacroStateEvent{
		MacroRegime:    string(regime),
		RegimeScore:    score,
		SentimentScore: sent.Ptr(),
		FOMOScore:      FOMOScore(rvol, sent).Ptr(),
		Timestamp:      m.now(),
	}
	if err := m.pub.Publish(ctx, models.TopicMacroState, []byte("macro"), event); err != nil {
		return models.MacroStateEvent{}, fmt.Errorf("publish macro state: %w", err)
	}
	m.log.Debug("macro state published",
		logger.String("regime", event.MacroRegime),
		logger.Float64("regime_score", score),
		logger.Bool("sentiment_known", sent.Known),
	)
	return event, nil
}

func (m *MacroBroadcaster) fetchSentiment(ctx context.Context) models.Optional {
	if m.sentiment == nil {
		return models.Optional{}
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	v, err := m.sentiment.Sentiment(ctx, m.query)
	if err != nil {
		var transient *models.TransientUpstreamError
		if !errors.As(err, &transient) {
			err = &models.TransientUpstreamError{Source: "sentiment", Err: err}
		}
		m.metrics.RecordError(string(models.Classify(err)))
		m.log.Warn("sentiment unavailable", logger.Error(err))
		return models.Optional{}
	}
	return models.Some(v)
}
