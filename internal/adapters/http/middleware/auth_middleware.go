package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"admin-console/internal/domain"
	"admin-console/internal/infrastructure/auth"
)

type Mode string

const (
	ModeNone    Mode = "none"
	ModeJWT     Mode = "jwt"
	ModeCognito Mode = "cognito"
)

// DevIdentityHeader names the header that carries the caller's email when
// authentication is disabled.
const DevIdentityHeader = "X-Console-Email"

const identityKey = "identity"

func ParseAuthMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ModeNone, nil
	case ModeNone, ModeJWT, ModeCognito:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid auth mode %q", raw)
	}
}

// AuthMiddleware resolves the caller's identity and stores it in the request
// context. A verifier is required for every mode except none.
func AuthMiddleware(mode Mode, verifier auth.Verifier) (echo.MiddlewareFunc, error) {
	if mode != ModeNone && verifier == nil {
		return nil, errors.New("token verifier is required when AUTH_MODE=" + string(mode))
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var (
				id  domain.Identity
				err error
			)
			switch mode {
			case ModeNone:
				id, err = devIdentity(c.Request())
			case ModeJWT, ModeCognito:
				id, err = bearerIdentity(c, verifier)
			default:
				return echo.NewHTTPError(http.StatusInternalServerError, "invalid auth mode")
			}
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
			}
			req := c.Request()
			c.SetRequest(req.WithContext(domain.WithIdentity(req.Context(), id)))
			c.Set(identityKey, id)
			return next(c)
		}
	}, nil
}

func devIdentity(r *http.Request) (domain.Identity, error) {
	email := strings.TrimSpace(r.Header.Get(DevIdentityHeader))
	if email == "" {
		return domain.Identity{}, errors.New("missing " + DevIdentityHeader + " header")
	}
	return domain.Identity{Subject: strings.ToLower(email), Email: email}, nil
}

func bearerIdentity(c echo.Context, verifier auth.Verifier) (domain.Identity, error) {
	token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return domain.Identity{}, errors.New("missing authorization token")
	}
	id, err := verifier.Verify(c.Request().Context(), token)
	if err != nil {
		return domain.Identity{}, errors.New("invalid token")
	}
	return id, nil
}

// IdentityFrom returns the identity AuthMiddleware attached to c.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(identityKey).(domain.Identity)
	if ok {
		return id, true
	}
	return domain.IdentityFromContext(c.Request().Context())
}
