package usecase

import "time"

// Cooldown suppresses new decisions until interval has passed since the last
// emitted one. It is owned by a single loop and not safe for concurrent use.
type Cooldown struct {
	interval time.Duration
	last     time.Time
	armed    bool
}

// NewCooldown returns an unarmed cooldown.
func NewCooldown(interval time.Duration) *Cooldown {
	return &Cooldown{interval: interval}
}

// Ready reports whether a new decision may be emitted at now.
func (c *Cooldown) Ready(now time.Time) bool {
	if c == nil || !c.armed {
		return true
	}
	return now.Sub(c.last) >= c.interval
}

// Mark records an emission at now.
func (c *Cooldown) Mark(now time.Time) {
	c.last = now
	c.armed = true
}

// Last returns the time of the last emission.
func (c *Cooldown) Last() (time.Time, bool) { return c.last, c.armed }

// Interval returns the configured spacing.
func (c *Cooldown) Interval() time.Duration { return c.interval }
