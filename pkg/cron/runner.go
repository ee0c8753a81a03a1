// Package cron runs periodic jobs with a shared base context.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// Runner wraps robfig/cron. A job that is still running when its next tick
// fires is skipped; panics are recovered.
type Runner struct {
	cron    *cron.Cron
	log     *logger.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a runner. Jobs receive a context cancelled by Stop.
func New(l *logger.Logger) *Runner {
	if l == nil {
		l = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     l.With(logger.String("component", "cron")),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Every registers job to run at a fixed interval.
func (r *Runner) Every(name string, interval time.Duration, job func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return r.Add(name, "@every "+interval.String(), job)
}

// Add registers job under a cron spec.
func (r *Runner) Add(name, spec string, job func(context.Context)) error {
	_, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		job(r.baseCtx)
		r.log.Debug("cron job done", logger.String("job", name), logger.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}
	r.log.Info("cron job registered", logger.String("job", name), logger.String("spec", spec))
	return nil
}

// Start begins scheduling in the background.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info("cron started", logger.Int("jobs", len(r.cron.Entries())))
}

// Stop cancels running jobs and waits for them to return or ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	r.cancel()
	select {
	case <-done.Done():
		r.log.Info("cron stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron stop: %w", ctx.Err())
	}
}
