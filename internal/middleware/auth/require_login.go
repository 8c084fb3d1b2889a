package auth

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/tokens"
)

const claimsKey = "access_claims"

// Middleware verifies access tokens issued by the auth service. The token is
// read from the Authorization header or the access cookie.
type Middleware struct {
	verify echo.MiddlewareFunc
}

func New(secret []byte) *Middleware {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    secret,
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    claimsKey,
		TokenLookup:   "header:Authorization:Bearer ,cookie:" + AccessCookie,
		NewClaimsFunc: func(echo.Context) jwt.Claims { return new(tokens.AccessClaims) },
		SuccessHandler: func(c echo.Context) {
			if tkn, ok := c.Get(claimsKey).(*jwt.Token); ok {
				if claims, ok := tkn.Claims.(*tokens.AccessClaims); ok {
					setUserContext(c, claims)
				}
			}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			logging.FromContext(c.Request().Context()).Warn("auth_rejected", "path", c.Path(), "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing access token")
		},
	})
	return &Middleware{verify: verify}
}

func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return m.verify(func(c echo.Context) error {
		if _, err := CurrentUserID(c); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}
		return next(c)
	})
}
