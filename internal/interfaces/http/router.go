package http

import (
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"admin-console/internal/adapters/http/middleware"
	"admin-console/internal/domain"
)

type Middleware struct {
	Auth          echo.MiddlewareFunc
	XRay          echo.MiddlewareFunc
	RequestLogger echo.MiddlewareFunc
	// Session binds the caller's permission cache; Login rejects callers
	// without console access.
	Session echo.MiddlewareFunc
	Login   echo.MiddlewareFunc
	// Require builds the gate for a route given how to find its key.
	Require func(keyOf func(echo.Context) string) echo.MiddlewareFunc
}

type Handlers struct {
	Session *SessionHandler
	Admin   *AdminHandler
	Roster  *RosterHandler
	Metrics stdhttp.Handler
}

func newEcho(m Middleware) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	for _, mw := range []echo.MiddlewareFunc{m.XRay, m.RequestLogger} {
		if mw != nil {
			e.Use(mw)
		}
	}
	return e
}

func chain(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}

func NewMainRouter(h Handlers, m Middleware) *echo.Echo {
	e := newEcho(m)
	e.GET("/healthz", Health)
	if h.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.Metrics))
	}

	session := chain(m.Auth, m.Session)
	e.GET("/session", h.Session.Get, session...)
	e.POST("/session/refresh", h.Session.Refresh, session...)
	e.POST("/session/logout", h.Session.Logout, session...)

	// Console routes are registered one by one so that unknown paths stay
	// plain 404s instead of passing through the auth chain.
	protected := func(gate echo.MiddlewareFunc) []echo.MiddlewareFunc {
		return chain(m.Auth, m.Session, m.Login, gate)
	}
	team := protected(m.Require(middleware.Permission(domain.PermissionTeam)))

	e.GET("/permissions", h.Admin.Catalog, team...)
	e.GET("/people", h.Admin.People, team...)
	e.GET("/people/:id/grants", h.Admin.PersonGrants, team...)
	e.PUT("/people/:id/grants", h.Admin.ReplaceGrants, team...)
	e.POST("/people/:id/grants", h.Admin.Grant, team...)
	e.DELETE("/people/:id/grants/:permission_id", h.Admin.Revoke, team...)
	e.GET("/people/:id/permissions/:key", h.Admin.Check, team...)

	e.GET("/teams", h.Roster.ListTeams, team...)
	e.POST("/teams/:id/move", h.Roster.MoveTeam, team...)
	e.PUT("/teams/:id/members/order", h.Roster.ReorderMembers, team...)

	e.GET("/modules/:key", Module, protected(m.Require(middleware.PathPermission("key")))...)
	return e
}
