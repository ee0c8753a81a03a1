package models

// Bus topics.
const (
	TopicVolSurface     = "market.vol_surface"
	TopicVolForecast    = "strategy.forecast.volatility"
	TopicMacroState     = "market.macro_state"
	TopicPortfolioRisk  = "portfolio.risk"
	TopicIntent         = "strategy.intent"
	TopicSignal         = "strategy.signal"
	TopicApprovedIntent = "execution.command"
	TopicOrderCommand   = "order.command"
	TopicOrderFill      = "order.fill"
	TopicPositionUpdate = "position.update"
	TopicRiskVerdict    = "risk.verdict"
	TopicRiskAlert      = "risk.alert"
	TopicExecRejected   = "execution.rejected"
	TopicLogDigest      = "ops.log_digest"
)
