package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// RequestLogging logs each request at debug level; the ops surface is polled
// often and info would drown the pipeline logs.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if l != nil {
				req := c.Request()
				l.Debug("http request",
					logger.String("method", req.Method),
					logger.String("route", c.Path()),
					logger.String("remote", c.RealIP()),
					logger.Int("status", c.Response().Status),
					logger.Duration("duration_ms", time.Since(start)),
				)
			}
			return err
		}
	}
}
