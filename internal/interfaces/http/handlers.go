package http

import (
	"errors"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"admin-console/internal/adapters/http/middleware"
	"admin-console/internal/application"
	"admin-console/internal/application/ordering"
	"admin-console/internal/application/permissions"
	"admin-console/internal/domain"
)

func handleError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthenticated):
		return c.JSON(stdhttp.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPermissionDeny), errors.Is(err, domain.ErrLoginRestricted):
		return c.JSON(stdhttp.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(stdhttp.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		return c.JSON(stdhttp.StatusConflict, map[string]string{"error": err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(stdhttp.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidInput
	}
	return id, nil
}

// actor is the signed-in person making an administrative change.
func actor(c echo.Context) *domain.Person {
	cache, ok := middleware.CacheFrom(c)
	if !ok {
		return nil
	}
	return cache.State().User
}

type sessionView struct {
	Loading     bool                 `json:"loading"`
	User        *domain.Person       `json:"user"`
	Permissions domain.PermissionSet `json:"permissions"`
}

func viewOf(st permissions.State) sessionView {
	return sessionView{Loading: st.Loading, User: st.User, Permissions: st.Permissions}
}

type SessionHandler struct {
	registry *permissions.Registry
	wait     time.Duration
}

func NewSessionHandler(registry *permissions.Registry, wait time.Duration) *SessionHandler {
	return &SessionHandler{registry: registry, wait: wait}
}

func (h *SessionHandler) Get(c echo.Context) error {
	cache, ok := middleware.CacheFrom(c)
	if !ok {
		return handleError(c, domain.ErrUnauthenticated)
	}
	return c.JSON(stdhttp.StatusOK, viewOf(middleware.Settle(c.Request().Context(), cache, h.wait)))
}

func (h *SessionHandler) Refresh(c echo.Context) error {
	cache, ok := middleware.CacheFrom(c)
	if !ok {
		return handleError(c, domain.ErrUnauthenticated)
	}
	return c.JSON(stdhttp.StatusOK, viewOf(cache.Refresh(c.Request().Context())))
}

func (h *SessionHandler) Logout(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return handleError(c, domain.ErrUnauthenticated)
	}
	subject := id.Subject
	if subject == "" {
		subject = id.Email
	}
	h.registry.Release(c.Request().Context(), subject)
	return c.NoContent(stdhttp.StatusNoContent)
}

type AdminHandler struct {
	service *application.PermissionAdminService
}

func NewAdminHandler(service *application.PermissionAdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) Catalog(c echo.Context) error {
	perms, err := h.service.Catalog(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, perms)
}

func (h *AdminHandler) People(c echo.Context) error {
	people, err := h.service.PeopleWithCounts(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, people)
}

func (h *AdminHandler) PersonGrants(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return handleError(c, err)
	}
	grants, err := h.service.PersonGrants(c.Request().Context(), personID)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, grants)
}

func (h *AdminHandler) ReplaceGrants(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return handleError(c, err)
	}
	var req struct {
		Grants []domain.GrantRequest `json:"grants"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	grants, err := h.service.ReplaceGrants(c.Request().Context(), actor(c), personID, req.Grants)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, grants)
}

func (h *AdminHandler) Grant(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return handleError(c, err)
	}
	var req domain.GrantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	grant, err := h.service.Grant(c.Request().Context(), actor(c), personID, req.PermissionID, req.ExpiresAt)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, grant)
}

func (h *AdminHandler) Revoke(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return handleError(c, err)
	}
	if err := h.service.Revoke(c.Request().Context(), personID, c.Param("permission_id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *AdminHandler) Check(c echo.Context) error {
	personID, err := pathID(c, "id")
	if err != nil {
		return handleError(c, err)
	}
	key := c.Param("key")
	granted, err := h.service.HasPermission(c.Request().Context(), personID, key)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, map[string]any{"person_id": personID, "permission": key, "granted": granted})
}

type RosterHandler struct {
	service *application.RosterService
}

func NewRosterHandler(service *application.RosterService) *RosterHandler {
	return &RosterHandler{service: service}
}

func (h *RosterHandler) ListTeams(c echo.Context) error {
	teams, err := h.service.ListTeams(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, teams)
}

func (h *RosterHandler) MoveTeam(c echo.Context) error {
	teamID, err := pathID(c, "id")
	if err != nil {
		return handleError(c, err)
	}
	var req struct {
		Direction string `json:"direction"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	dir, err := ordering.ParseDirection(req.Direction)
	if err != nil {
		return handleError(c, err)
	}
	teams, err := h.service.MoveTeam(c.Request().Context(), teamID, dir)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, teams)
}

func (h *RosterHandler) ReorderMembers(c echo.Context) error {
	teamID, err := pathID(c, "id")
	if err != nil {
		return handleError(c, err)
	}
	var req struct {
		PersonIDs []int64 `json:"person_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	members, err := h.service.ReorderMembers(c.Request().Context(), teamID, req.PersonIDs)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, members)
}

var modules = map[string]string{
	domain.PermissionEvents:  "Events",
	domain.PermissionPhotos:  "Photos",
	domain.PermissionTeam:    "Team",
	domain.PermissionQueries: "Queries",
}

// Module is the landing endpoint of a protected console area. It is only
// reached once the gate has authorized the caller.
func Module(c echo.Context) error {
	key := c.Param("key")
	title, ok := modules[key]
	if !ok {
		return handleError(c, domain.ErrNotFound)
	}
	return c.JSON(stdhttp.StatusOK, map[string]string{"module": key, "title": title, "access": "granted"})
}

func Health(c echo.Context) error {
	return c.JSON(stdhttp.StatusOK, map[string]string{"status": "ok"})
}
