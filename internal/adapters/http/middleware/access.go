package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"admin-console/internal/application"
	"admin-console/internal/application/permissions"
	"admin-console/internal/ports"
)

const cacheKey = "permission_cache"

// Session binds the caller's permission cache to the request. It must run
// after AuthMiddleware.
func Session(registry *permissions.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not signed in"})
			}
			c.Set(cacheKey, registry.Acquire(c.Request().Context(), id))
			return next(c)
		}
	}
}

func CacheFrom(c echo.Context) (*permissions.Cache, bool) {
	cache, ok := c.Get(cacheKey).(*permissions.Cache)
	return cache, ok && cache != nil
}

// Settle returns the cache state, waiting up to wait for an in-flight load.
func Settle(ctx context.Context, cache *permissions.Cache, wait time.Duration) permissions.State {
	st := cache.State()
	if !st.Loading || wait <= 0 {
		return st
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	st, _ = cache.Wait(waitCtx)
	return st
}

type GateConfig struct {
	Wait    time.Duration
	Metrics ports.Metrics
	// Loading and Denied replace the default JSON responses.
	Loading echo.HandlerFunc
	Denied  func(c echo.Context, permission string) error
}

func (cfg GateConfig) loading(c echo.Context) error {
	if cfg.Loading != nil {
		return cfg.Loading(c)
	}
	retry := int(cfg.Wait.Seconds())
	if retry < 1 {
		retry = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "checking permissions"})
}

func (cfg GateConfig) denied(c echo.Context, permission string) error {
	if cfg.Denied != nil {
		return cfg.Denied(c, permission)
	}
	return c.JSON(http.StatusForbidden, map[string]string{
		"error":               "access denied",
		"required_permission": permission,
	})
}

// RequireLogin rejects callers without a person record that may log in.
func RequireLogin(cfg GateConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cache, ok := CacheFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not signed in"})
			}
			st := Settle(c.Request().Context(), cache, cfg.Wait)
			if st.Loading {
				return cfg.loading(c)
			}
			if err := application.LoginAllowed(st.User); err != nil {
				return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// RequirePermission gates the route on the key returned by keyOf. The
// handler runs only when the caller's settled permission set holds the key.
func RequirePermission(keyOf func(echo.Context) string, cfg GateConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyOf(c)
			cache, ok := CacheFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not signed in"})
			}
			st := Settle(c.Request().Context(), cache, cfg.Wait)
			branch := permissions.Require(key).Decide(st)
			if cfg.Metrics != nil {
				cfg.Metrics.GateDecision(key, branch.String())
			}
			switch branch {
			case permissions.BranchLoading:
				return cfg.loading(c)
			case permissions.BranchDenied:
				return cfg.denied(c, key)
			default:
				return next(c)
			}
		}
	}
}

// Permission is a keyOf for routes guarded by a fixed key.
func Permission(key string) func(echo.Context) string {
	return func(echo.Context) string { return key }
}

// PathPermission is a keyOf that reads the key from a path parameter.
func PathPermission(param string) func(echo.Context) string {
	return func(c echo.Context) string { return c.Param(param) }
}
