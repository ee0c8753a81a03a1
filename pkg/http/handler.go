package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler mounts a set of routes on the ops server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// RoutesFunc adapts a function to Handler.
type RoutesFunc func(e *echo.Echo)

func (f RoutesFunc) RegisterRoutes(e *echo.Echo) { f(e) }

// healthRoutes serves liveness and the Prometheus scrape endpoint.
func healthRoutes(metricsPath string) Handler {
	return RoutesFunc(func(e *echo.Echo) {
		e.GET("/health", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		})
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	})
}
