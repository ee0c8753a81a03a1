package di

import "github.com/google/wire"

// ProviderSet is every provider the application graph is built from.
var ProviderSet = wire.NewSet(
	// Infrastructure
	ProvideMetrics,
	ProvideRedisClient,
	ProvideTransport,
	ProvidePublisher,
	ProvideCache,
	ProvidePortfolioStore,
	ProvideClickHouseClient,
	ProvideAuditStore,

	// Services
	ProvideGreeks,
	ProvideVolEstimator,
	ProvideSentiment,

	// Use cases
	ProvideRiskBroadcaster,
	ProvideMacroBroadcaster,
	ProvideStrategyRunners,
	ProvideRiskHandler,
	ProvideHedgeHandler,
	ProvideExecutionHandler,
	ProvidePortfolioHandler,

	// Ops surface
	ProvideOutcomeHub,
	ProvideHTTPServer,

	// Application server
	ProvideGroups,
	ProvideJobs,
	ProvideClosers,
	ProvideApp,
)
