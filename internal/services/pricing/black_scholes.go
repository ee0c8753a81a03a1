package pricing

import (
	"math"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
)

const minYears = 0.001

// BlackScholes prices European option Greeks. Vega and rho are per 1 vol
// or rate point, theta is per calendar day.
type BlackScholes struct {
	rate       float64
	defaultVol float64
}

var _ service.GreeksCalculator = (*BlackScholes)(nil)

// NewBlackScholes creates a calculator. defaultVol is used when a contract
// comes without a usable implied volatility.
func NewBlackScholes(riskFreeRate, defaultVol float64) *BlackScholes {
	return &BlackScholes{rate: riskFreeRate, defaultVol: defaultVol}
}

// Greeks returns per-unit Greeks. Degenerate inputs give zero Greeks.
func (bs *BlackScholes) Greeks(c service.OptionContract, now time.Time) models.Greeks {
	S, K, r := c.Spot, c.Strike, bs.rate
	if S <= 0 || K <= 0 {
		return models.Greeks{}
	}
	sigma := c.Vol
	if sigma <= 0 || math.IsNaN(sigma) {
		sigma = bs.defaultVol
	}
	T := math.Max(c.Expiry.Sub(now).Hours()/24/365, minYears)
	sqrtT := math.Sqrt(T)

	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	pdf := normPDF(d1)
	disc := math.Exp(-r * T)

	g := models.Greeks{
		Gamma: pdf / (S * sigma * sqrtT),
		Vega:  S * pdf * sqrtT / 100,
	}
	if c.Call {
		g.Delta = normCDF(d1)
		g.Theta = (-(S*pdf*sigma)/(2*sqrtT) - r*K*disc*normCDF(d2)) / 365
		g.Rho = K * T * disc * normCDF(d2) / 100
	} else {
		g.Delta = normCDF(d1) - 1
		g.Theta = (-(S*pdf*sigma)/(2*sqrtT) + r*K*disc*normCDF(-d2)) / 365
		g.Rho = -K * T * disc * normCDF(-d2) / 100
	}
	return g
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
