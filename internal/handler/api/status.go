package api

import (
	"github.com/labstack/echo/v4"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	"github.com/RichedYu/glm-crypto-trading-platform/internal/usecase"
	xhttp "github.com/RichedYu/glm-crypto-trading-platform/pkg/http"
	xlogger "github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// SnapshotSource returns the latest published risk snapshot.
type SnapshotSource interface {
	Latest() (models.PortfolioRiskSnapshot, bool)
}

// HedgeSource reports the hedge monitor state.
type HedgeSource interface {
	Status() usecase.HedgeStatus
}

// StrategySource reports one strategy instance.
type StrategySource interface {
	Status() usecase.StrategyStatus
}

// StatusHandler serves the read-only ops views of the trading loops.
type StatusHandler struct {
	logger     *xlogger.Logger
	risk       SnapshotSource
	hedge      HedgeSource
	strategies []StrategySource
}

func NewStatusHandler(logger *xlogger.Logger, risk SnapshotSource, hedge HedgeSource, strategies []StrategySource) *StatusHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &StatusHandler{logger: logger, risk: risk, hedge: hedge, strategies: strategies}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/risk/snapshot", h.RiskSnapshot)
	g.GET("/hedge/state", h.HedgeState)
	g.GET("/strategies", h.Strategies)
}

func (h *StatusHandler) RiskSnapshot(c echo.Context) error {
	snap, ok := h.risk.Latest()
	if !ok {
		h.logger.Debug("risk snapshot requested before first broadcast")
		return xhttp.Fail(c, xhttp.NotReady("no risk snapshot published yet"))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.OK(c, snap)
}

func (h *StatusHandler) HedgeState(c echo.Context) error {
	return xhttp.OK(c, h.hedge.Status())
}

func (h *StatusHandler) Strategies(c echo.Context) error {
	rows := make([]usecase.StrategyStatus, 0, len(h.strategies))
	for _, s := range h.strategies {
		rows = append(rows, s.Status())
	}
	return xhttp.List(c, rows)
}
