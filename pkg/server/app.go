package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/handler/api"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/cron"
	xhttp "github.com/RichedYu/glm-crypto-trading-platform/pkg/http"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// Group is one consumer group with its handlers already registered.
type Group struct {
	Name       string
	Subscriber bus.Subscriber
}

// Job is a periodic task. RunAtStart runs it once right after the groups
// are consuming, before the first interval elapses.
type Job struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        func(context.Context)
}

// Closer releases one infrastructure resource at shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	log             *logger.Logger
	groups          []Group
	jobs            []Job
	cron            *cron.Runner
	httpServer      *xhttp.Server
	hub             *api.OutcomeHub
	closers         []Closer
	shutdownTimeout time.Duration

	started []Group
}

// New creates an App. Groups start in order and stop in reverse; closers run
// in order after every group has stopped.
func New(
	log *logger.Logger,
	groups []Group,
	jobs []Job,
	httpServer *xhttp.Server,
	hub *api.OutcomeHub,
	closers []Closer,
	shutdownTimeout time.Duration,
) *App {
	if log == nil {
		log = logger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{
		log:             log.With(logger.String("component", "app")),
		groups:          groups,
		jobs:            jobs,
		cron:            cron.New(log),
		httpServer:      httpServer,
		hub:             hub,
		closers:         closers,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.log.Error("startup failed", logger.Error(err))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return errors.Join(err, a.Shutdown(shutdownCtx))
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start launches the consumer groups, then the scheduled jobs, then the
// ops HTTP server.
func (a *App) Start(ctx context.Context) error {
	for _, g := range a.groups {
		if err := g.Subscriber.Start(); err != nil {
			return fmt.Errorf("start group %s: %w", g.Name, err)
		}
		a.started = append(a.started, g)
		a.log.Info("consumer group started", logger.String("group", g.Name))
	}

	for _, j := range a.jobs {
		if err := a.cron.Every(j.Name, j.Interval, j.Run); err != nil {
			return err
		}
	}
	for _, j := range a.jobs {
		if j.RunAtStart {
			j.Run(ctx)
		}
	}
	a.cron.Start()

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	return nil
}

// Shutdown stops the schedulers first so nothing new is published, then the
// ops surface, then the groups, then the infrastructure.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down")
	var errs []error

	if err := a.cron.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cron: %w", err))
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}

	for i := len(a.started) - 1; i >= 0; i-- {
		g := a.started[i]
		if err := g.Subscriber.Stop(ctx); err != nil {
			a.log.Warn("consumer group stop error", logger.String("group", g.Name), logger.Error(err))
			errs = append(errs, fmt.Errorf("group %s: %w", g.Name, err))
		}
	}
	a.started = nil

	// The digest goes out through the publisher, so detach it first.
	a.log.RemoveCollector()

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", logger.String("resource", c.Name), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
