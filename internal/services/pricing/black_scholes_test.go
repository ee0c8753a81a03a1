package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
)

func TestGreeksATM(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bs := NewBlackScholes(0.03, 0.6)
	c := service.OptionContract{Spot: 40000, Strike: 40000, Expiry: now.AddDate(0, 0, 30), Call: true, Vol: 0.6}

	call := bs.Greeks(c, now)
	c.Call = false
	put := bs.Greeks(c, now)

	assert.InDelta(t, 0.54, call.Delta, 0.03)
	assert.InDelta(t, 1.0, call.Delta-put.Delta, 1e-9)
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-9)
	assert.Greater(t, call.Gamma, 0.0)
	assert.Less(t, call.Theta, 0.0)
	assert.Greater(t, call.Rho, 0.0)
	assert.Less(t, put.Rho, 0.0)
}

func TestGreeksFallbacks(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bs := NewBlackScholes(0.03, 0.6)

	withDefault := bs.Greeks(service.OptionContract{Spot: 100, Strike: 100, Expiry: now.AddDate(0, 1, 0), Call: true}, now)
	explicit := bs.Greeks(service.OptionContract{Spot: 100, Strike: 100, Expiry: now.AddDate(0, 1, 0), Call: true, Vol: 0.6}, now)
	assert.Equal(t, explicit, withDefault)

	expired := bs.Greeks(service.OptionContract{Spot: 120, Strike: 100, Expiry: now.AddDate(0, 0, -1), Call: true, Vol: 0.6}, now)
	assert.InDelta(t, 1.0, expired.Delta, 1e-6)

	assert.Zero(t, bs.Greeks(service.OptionContract{Spot: 0, Strike: 100, Expiry: now}, now))
}
