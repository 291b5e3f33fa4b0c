package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"admin-console/internal/ports"
)

// RequestLogger logs one line per request. Server errors are logged at
// error level, everything else at info.
func RequestLogger(logger ports.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			ctx := c.Request().Context()
			args := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"route_pattern", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(started).String(),
			}
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				args = append(args, "request_id", rid)
			}
			if id, ok := IdentityFrom(c); ok {
				args = append(args, "subject", id.Subject)
			}
			if c.Response().Status >= 500 {
				logger.Error(ctx, "http request", args...)
			} else {
				logger.Info(ctx, "http request", args...)
			}
			return nil
		}
	}
}
