package di

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	domsvc "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/service"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/handler/api"
	mid "github.com/RichedYu/glm-crypto-trading-platform/internal/middleware"
	internalrepo "github.com/RichedYu/glm-crypto-trading-platform/internal/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/service/ratelimit"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/services/features"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/services/pricing"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/services/sentiment"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/usecase"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/cache"
	pkgch "github.com/RichedYu/glm-crypto-trading-platform/pkg/clickhouse"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/config"
	xhttp "github.com/RichedYu/glm-crypto-trading-platform/pkg/http"
	pkgkafka "github.com/RichedYu/glm-crypto-trading-platform/pkg/kafka"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/metrics"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/queue"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/server"
)

// Consumer group names. Every group receives its own copy of each topic it
// subscribes to.
const (
	GroupStrategy  = "strategy"
	GroupRisk      = "risk"
	GroupHedge     = "hedge"
	GroupExecution = "execution"
	GroupPortfolio = "portfolio"
	GroupAudit     = "audit"
	GroupOps       = "ops"
)

const kafkaGroupPrefix = "glm."

// volWindow is the number of PnL points read for realized volatility.
const volWindow = features.DefaultWindow + 1

// Transport is the bus selected by bus.type: one publisher shared by every
// component and a factory for per-group subscribers.
type Transport struct {
	Publisher bus.Publisher
	Subscribe func(group string) (bus.Subscriber, error)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisClient connects to Redis when the bus or the portfolio store
// needs it and returns nil otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Bus.Type != "redis" && cfg.Portfolio.Store != "redis" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideTransport builds the memory, Kafka or Redis Streams bus.
func ProvideTransport(cfg *config.Config, log *logger.Logger, m repository.Metrics, rdb *redis.Client) (*Transport, error) {
	kc := cfg.Kafka.Consumer
	switch cfg.Bus.Type {
	case "kafka":
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
			pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
			pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		hook := mid.OutcomeHook(m, log)
		return &Transport{
			Publisher: producer,
			Subscribe: func(group string) (bus.Subscriber, error) {
				c, err := pkgkafka.NewConsumer(
					pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
					pkgkafka.WithConsumerGroupID(kafkaGroupPrefix+group),
					pkgkafka.WithConsumerWorkers(kc.Workers),
					pkgkafka.WithConsumerBufferSize(kc.BufferSize),
					pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
					pkgkafka.WithConsumerDLQ(kc.DLQTopic),
					pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
					pkgkafka.WithConsumerLogger(log),
				)
				if err != nil {
					return nil, fmt.Errorf("kafka consumer %s: %w", group, err)
				}
				c.WithConsumerHook(hook)
				return c, nil
			},
		}, nil

	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis bus requires redis.addr")
		}
		sc := cfg.Redis.Stream
		name := sc.Consumer
		if name == "" {
			name, _ = os.Hostname()
		}
		pub := queue.NewRedisStream(log, queue.StreamConfig{MaxLen: sc.MaxLen}, rdb, queue.ModeProducerOnly,
			queue.WithKeyPrefix(cfg.Redis.Prefix))
		return &Transport{
			Publisher: pub,
			Subscribe: func(group string) (bus.Subscriber, error) {
				return queue.NewRedisConsumer(log, queue.StreamConfig{
					Group:      group,
					Consumer:   name,
					BatchSize:  sc.BatchSize,
					Block:      sc.Block,
					RetryLimit: sc.RetryLimit,
					RetryMin:   kc.BackoffMin,
					RetryMax:   kc.BackoffMax,
					ClaimIdle:  sc.ClaimIdle,
				}, rdb, queue.WithKeyPrefix(cfg.Redis.Prefix)), nil
			},
		}, nil

	default:
		mb := bus.NewMemoryBus(
			bus.WithMemoryShards(kc.Workers),
			bus.WithMemoryBuffer(kc.BufferSize),
			bus.WithMemoryRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		)
		return &Transport{
			Publisher: mb,
			Subscribe: func(group string) (bus.Subscriber, error) { return mb.Group(group), nil },
		}, nil
	}
}

// ProvidePublisher exposes the transport's publisher.
func ProvidePublisher(t *Transport) bus.Publisher {
	return t.Publisher
}

// ProvideCache returns a layered memory+Redis cache when Redis is
// connected and a process-local cache otherwise.
func ProvideCache(cfg *config.Config, rdb *redis.Client) cache.Service {
	if rdb != nil {
		return cache.NewLayeredCache(cache.NewRedisCache(rdb, cfg.Redis.Prefix),
			cache.WithLayeredMemory(cache.WithMemoryMaxSize(10000)),
			cache.WithLayeredMemoryTTL(time.Minute),
		)
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(100000))
}

// ProvidePortfolioStore creates the memory or Redis portfolio store.
func ProvidePortfolioStore(cfg *config.Config, rdb *redis.Client) (repository.PortfolioStore, error) {
	initial := decimal.NewFromFloat(cfg.Portfolio.InitialBalance)
	if cfg.Portfolio.Store != "redis" {
		return internalrepo.NewMemoryPortfolioStore(initial, cfg.Portfolio.PnLHistory), nil
	}
	store := internalrepo.NewRedisPortfolioStore(rdb, cfg.Redis.Prefix, initial, cfg.Portfolio.PnLHistory)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("portfolio store: %w", err)
	}
	return store, nil
}

// ProvideClickHouseClient connects to ClickHouse when the audit trail is
// enabled and returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
		pkgch.WithCreateDatabase(true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideAuditStore creates the batched ClickHouse audit store, or nil when
// ClickHouse is disabled.
func ProvideAuditStore(cfg *config.Config, ch *pkgch.Client, log *logger.Logger) (repository.AuditStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseAuditStore(ch.DB(), cfg.ClickHouse.Database, cfg.ClickHouse.BatchSize, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideGreeks creates the Black-Scholes pricer.
func ProvideGreeks(cfg *config.Config) domsvc.GreeksCalculator {
	return pricing.NewBlackScholes(cfg.Pricing.RiskFreeRate, cfg.Pricing.DefaultVol)
}

// ProvideVolEstimator creates the realized volatility estimator.
func ProvideVolEstimator() domsvc.VolatilityEstimator {
	return features.PnLVolEstimator{Window: features.DefaultWindow}
}

// ProvideSentiment creates the rate limited sentiment client, or nil when
// no endpoint is configured.
func ProvideSentiment(cfg *config.Config) domsvc.SentimentProvider {
	s := cfg.Sentiment
	if len(s.URLs) == 0 {
		return nil
	}
	return sentiment.NewHTTPProvider(s.URLs, s.MaxResults, s.Timeout, ratelimit.New(s.RatePerSecond, s.Burst))
}

func ProvideRiskBroadcaster(
	cfg *config.Config,
	store repository.PortfolioStore,
	greeks domsvc.GreeksCalculator,
	vol domsvc.VolatilityEstimator,
	pub bus.Publisher,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.RiskBroadcaster {
	return usecase.NewRiskBroadcaster(store, greeks, vol, pub, m, log, cfg.Trading.Risk, volWindow, nil)
}

func ProvideMacroBroadcaster(
	cfg *config.Config,
	sent domsvc.SentimentProvider,
	store repository.PortfolioStore,
	vol domsvc.VolatilityEstimator,
	pub bus.Publisher,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.MacroBroadcaster {
	return usecase.NewMacroBroadcaster(sent, store, vol, pub, m, log, cfg.Sentiment.Query, cfg.Sentiment.Timeout, volWindow, nil)
}

// ProvideStrategyRunners creates one runner per configured instance.
func ProvideStrategyRunners(cfg *config.Config, pub bus.Publisher, m repository.Metrics, log *logger.Logger) []*usecase.StrategyRunner {
	params := cfg.Trading.Strategy
	runners := make([]*usecase.StrategyRunner, 0, len(params.Instances))
	for _, inst := range params.Instances {
		runners = append(runners, usecase.NewStrategyRunner(inst, params, pub, m, log, uuid.NewString, nil))
	}
	return runners
}

func ProvideRiskHandler(cfg *config.Config, c cache.Service, pub bus.Publisher, m repository.Metrics, log *logger.Logger) *usecase.RiskHandler {
	verdicts := internalrepo.NewCacheVerdictStore(c, cfg.Trading.Risk.VerdictTTL)
	return usecase.NewRiskHandler(usecase.NewRiskGate(cfg.Trading.Risk), verdicts, pub, m, log, nil)
}

func ProvideHedgeHandler(cfg *config.Config, pub bus.Publisher, m repository.Metrics, log *logger.Logger) *usecase.HedgeHandler {
	return usecase.NewHedgeHandler(usecase.NewHedgeMonitor(cfg.Trading.Hedge, uuid.NewString), pub, m, log, nil)
}

func ProvideExecutionHandler(cfg *config.Config, c cache.Service, pub bus.Publisher, m repository.Metrics, log *logger.Logger) *usecase.ExecutionHandler {
	tr := cfg.Trading
	dedup := internalrepo.NewCacheDeduper(c, "exec:intent", tr.Execution.DedupLease, tr.Execution.DedupTTL)
	return usecase.NewExecutionHandler(usecase.NewExecutionTranslator(tr.Execution, tr.Hedge), dedup, pub, m, log, nil)
}

func ProvidePortfolioHandler(
	cfg *config.Config,
	store repository.PortfolioStore,
	broadcaster *usecase.RiskBroadcaster,
	c cache.Service,
	pub bus.Publisher,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.PortfolioHandler {
	fills := internalrepo.NewCacheDeduper(c, "portfolio:fill", cfg.Trading.Execution.DedupLease, cfg.Trading.Execution.DedupTTL)
	return usecase.NewPortfolioHandler(store, broadcaster, fills, pub, m, log, nil)
}

func ProvideOutcomeHub(log *logger.Logger) *api.OutcomeHub {
	return api.NewOutcomeHub(log)
}

// ProvideHTTPServer creates the ops server with the status API and the
// outcome stream.
func ProvideHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	broadcaster *usecase.RiskBroadcaster,
	hedge *usecase.HedgeHandler,
	runners []*usecase.StrategyRunner,
	hub *api.OutcomeHub,
) *xhttp.Server {
	sources := make([]api.StrategySource, 0, len(runners))
	for _, r := range runners {
		sources = append(sources, r)
	}
	status := api.NewStatusHandler(log, broadcaster, hedge.Monitor(), sources)
	return xhttp.NewServer([]xhttp.Handler{status, hub},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(cfg.Metrics.Path),
		xhttp.WithLogger(log),
	)
}

// ProvideGroups registers every handler with its consumer group. Each
// handler is wrapped so panics become errors and every delivery is timed.
func ProvideGroups(
	t *Transport,
	m repository.Metrics,
	log *logger.Logger,
	runners []*usecase.StrategyRunner,
	risk *usecase.RiskHandler,
	hedge *usecase.HedgeHandler,
	exec *usecase.ExecutionHandler,
	portfolio *usecase.PortfolioHandler,
	audit repository.AuditStore,
	hub *api.OutcomeHub,
) ([]server.Group, error) {
	plan := []struct {
		name     string
		handlers []bus.Handler
	}{
		{GroupStrategy, usecase.NewStrategyHandlers(runners, m, log)},
		{GroupRisk, risk.Handlers()},
		{GroupHedge, []bus.Handler{hedge}},
		{GroupExecution, exec.Handlers()},
		{GroupPortfolio, portfolio.Handlers()},
		{GroupOps, hub.Handlers()},
	}
	if audit != nil {
		plan = append(plan, struct {
			name     string
			handlers []bus.Handler
		}{GroupAudit, usecase.NewAuditHandler(audit, m, log).Handlers()})
	}

	groups := make([]server.Group, 0, len(plan))
	for _, p := range plan {
		sub, err := t.Subscribe(p.name)
		if err != nil {
			return nil, err
		}
		for _, h := range p.handlers {
			sub.RegisterHandler(mid.Chain(h, mid.Recover(m), mid.Instrument(p.name, m, log)))
		}
		groups = append(groups, server.Group{Name: p.name, Subscriber: sub})
	}
	return groups, nil
}

// ProvideJobs schedules the portfolio risk and macro broadcasts and the
// audit flush.
func ProvideJobs(
	cfg *config.Config,
	broadcaster *usecase.RiskBroadcaster,
	macro *usecase.MacroBroadcaster,
	audit repository.AuditStore,
	log *logger.Logger,
) []server.Job {
	jobs := []server.Job{
		{Name: "risk_broadcast", Interval: cfg.Trading.Risk.BroadcastInterval, RunAtStart: true, Run: broadcaster.Tick},
		{Name: "macro_broadcast", Interval: cfg.Trading.Risk.MacroBroadcastInterval, RunAtStart: true, Run: macro.Tick},
	}
	if audit != nil {
		jobs = append(jobs, server.Job{Name: "audit_flush", Interval: cfg.ClickHouse.FlushInterval, Run: func(ctx context.Context) {
			if err := audit.Flush(ctx); err != nil {
				log.Error("audit flush failed", logger.Error(err))
			}
		}})
	}
	return jobs
}

// ProvideClosers lists the resources released after the groups stop, in
// release order.
func ProvideClosers(
	t *Transport,
	c cache.Service,
	store repository.PortfolioStore,
	audit repository.AuditStore,
	ch *pkgch.Client,
	rdb *redis.Client,
) []server.Closer {
	var closers []server.Closer
	if audit != nil {
		closers = append(closers, server.Closer{Name: "audit_store", Close: audit.Close})
	}
	closers = append(closers, server.Closer{Name: "portfolio_store", Close: store.Close})
	if cc, ok := c.(io.Closer); ok {
		closers = append(closers, server.Closer{Name: "cache", Close: cc.Close})
	}
	closers = append(closers, server.Closer{Name: "publisher", Close: t.Publisher.Close})
	if ch != nil {
		closers = append(closers, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	if rdb != nil {
		closers = append(closers, server.Closer{Name: "redis", Close: rdb.Close})
	}
	return closers
}

// ProvideApp assembles the application and attaches the error digest to the
// logger so repeated failures reach the ops topic.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	pub bus.Publisher,
	groups []server.Group,
	jobs []server.Job,
	httpServer *xhttp.Server,
	hub *api.OutcomeHub,
	closers []server.Closer,
) *server.App {
	if cfg.Log.Digest.Enabled {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Digest.Interval,
			CountThreshold: cfg.Log.Digest.Threshold,
			Topic:          models.TopicLogDigest,
			Publisher:      pub,
		})
	}
	return server.New(log, groups, jobs, httpServer, hub, closers, cfg.Server.ShutdownTimeout)
}
