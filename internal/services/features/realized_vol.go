package features

import (
	"math"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
)

const (
	// DefaultWindow is the number of most recent returns considered.
	DefaultWindow = 20
	// MaxRealizedVol caps the estimate.
	MaxRealizedVol = 1.5
)

// ComputeReturns computes simple returns (v_t - v_{t-1}) / max(|v_{t-1}|, 1).
// It returns nil if fewer than two values are given.
func ComputeReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1]
		out = append(out, (values[i]-prev)/math.Max(math.Abs(prev), 1))
	}
	return out
}

// RealizedVolatility is the root mean square of the last window returns,
// unannualised. With a single return it is that return's magnitude.
func RealizedVolatility(returns []float64, window int) float64 {
	if len(returns) == 0 {
		return 0
	}
	if window <= 0 || window > len(returns) {
		window = len(returns)
	}
	sum2 := 0.0
	for _, r := range returns[len(returns)-window:] {
		sum2 += r * r
	}
	return math.Sqrt(sum2 / float64(window))
}

// PnLVolEstimator estimates realized volatility of total portfolio value.
type PnLVolEstimator struct {
	Window int
}

var _ service.VolatilityEstimator = PnLVolEstimator{}

// RealizedVol returns the capped estimate, or false with fewer than two
// samples.
func (e PnLVolEstimator) RealizedVol(points []models.PnLPoint) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.TotalValue
	}
	window := e.Window
	if window <= 0 {
		window = DefaultWindow
	}
	v := RealizedVolatility(ComputeReturns(values), window)
	return math.Min(v, MaxRealizedVol), true
}
