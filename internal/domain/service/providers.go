package service

import (
	"context"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
)

// SentimentProvider returns a sentiment score in [-1, 1]. Callers bound the
// call with a deadline; any error means the score is absent.
type SentimentProvider interface {
	Sentiment(ctx context.Context, query string) (float64, error)
}

// OptionContract is the pricing input for one option position.
type OptionContract struct {
	Spot   float64
	Strike float64
	Expiry time.Time
	Call   bool
	Vol    float64
}

// GreeksCalculator prices per-unit Greeks of an option at now.
type GreeksCalculator interface {
	Greeks(c OptionContract, now time.Time) models.Greeks
}

// VolatilityEstimator estimates realized volatility from value samples.
type VolatilityEstimator interface {
	RealizedVol(points []models.PnLPoint) (float64, bool)
}
