package auth

import (
	"errors"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/storefront/internal/tokens"
)

const (
	AccessCookie = "accessToken"

	ctxUserID = "user_id"
	ctxRole   = "role"
)

var ErrUnauthenticated = errors.New("unauthorized")

func setUserContext(c echo.Context, claims *tokens.AccessClaims) {
	c.Set(ctxUserID, claims.Subject)
	c.Set(ctxRole, claims.Role)
}

// CurrentUserID returns the user id put into the context by RequireAuth.
func CurrentUserID(c echo.Context) (uuid.UUID, error) {
	s, ok := c.Get(ctxUserID).(string)
	if !ok || s == "" {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return id, nil
}

func CurrentRole(c echo.Context) string {
	role, _ := c.Get(ctxRole).(string)
	return role
}
