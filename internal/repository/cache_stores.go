package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domrepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/cache"
)

// CacheVerdictStore keeps risk verdicts in a cache for ttl.
type CacheVerdictStore struct {
	c   cache.Service
	ttl time.Duration
}

var _ domrepo.VerdictStore = (*CacheVerdictStore)(nil)

func NewCacheVerdictStore(c cache.Service, ttl time.Duration) *CacheVerdictStore {
	return &CacheVerdictStore{c: c, ttl: ttl}
}

func verdictKey(intentID, fingerprint string) string {
	return "risk:verdict:" + intentID + ":" + fingerprint
}

func (s *CacheVerdictStore) Get(ctx context.Context, intentID, fingerprint string) (models.RiskCheckResult, bool, error) {
	r, ok, err := cache.Lookup[models.RiskCheckResult](ctx, s.c, verdictKey(intentID, fingerprint))
	if err != nil {
		return models.RiskCheckResult{}, false, fmt.Errorf("get verdict: %w", err)
	}
	return r, ok, nil
}

func (s *CacheVerdictStore) Put(ctx context.Context, intentID, fingerprint string, r models.RiskCheckResult) error {
	return s.c.Set(ctx, verdictKey(intentID, fingerprint), r, s.ttl)
}

// CacheDeduper keeps a lease key while an id is being worked on and a done
// key once the work succeeded. A lease left by a crashed worker expires, so a
// redelivered message is never skipped for longer than the lease.
type CacheDeduper struct {
	c      cache.Service
	prefix string
	lease  time.Duration
	ttl    time.Duration
	poll   time.Duration
}

var _ domrepo.Deduper = (*CacheDeduper)(nil)

// NewCacheDeduper creates a deduper whose keys start with prefix, e.g.
// "exec:intent" or "portfolio:fill". Done markers live for ttl.
func NewCacheDeduper(c cache.Service, prefix string, lease, ttl time.Duration) *CacheDeduper {
	poll := lease / 20
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	return &CacheDeduper{c: c, prefix: prefix, lease: lease, ttl: ttl, poll: poll}
}

func (d *CacheDeduper) leaseKey(id string) string { return d.prefix + ":lease:" + id }
func (d *CacheDeduper) doneKey(id string) string  { return d.prefix + ":done:" + id }

// Claim waits while another worker holds the lease. The done marker is
// checked only under the lease, and Complete writes it before letting the
// lease go, so two claims of one id never both succeed.
func (d *CacheDeduper) Claim(ctx context.Context, id string) (bool, error) {
	for {
		got, err := d.c.TryLock(ctx, d.leaseKey(id), d.lease)
		if err != nil {
			return false, fmt.Errorf("lease %s: %w", id, err)
		}
		if got {
			done, err := d.c.Exists(ctx, d.doneKey(id))
			if err != nil {
				_ = d.c.Unlock(ctx, d.leaseKey(id))
				return false, fmt.Errorf("check done %s: %w", id, err)
			}
			if done {
				return false, d.c.Unlock(ctx, d.leaseKey(id))
			}
			return true, nil
		}

		t := time.NewTimer(d.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}

func (d *CacheDeduper) Complete(ctx context.Context, id string) error {
	if err := d.c.Set(ctx, d.doneKey(id), 1, d.ttl); err != nil {
		return fmt.Errorf("mark done %s: %w", id, err)
	}
	return d.c.Unlock(ctx, d.leaseKey(id))
}

func (d *CacheDeduper) Release(ctx context.Context, id string) error {
	return d.c.Unlock(ctx, d.leaseKey(id))
}
