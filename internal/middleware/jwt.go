package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by the JWT middlewares.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
	ctxEmail  = "email"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// puts the caller's id, role and email into the request context. Requests
// without a valid token are rejected with 401.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c)
			if !ok {
				return unauthorized(c, "missing bearer token")
			}
			if err := authenticate(c, secret, raw); err != nil {
				return unauthorized(c, "invalid token")
			}
			return next(c)
		}
	}
}

// OptionalJWT authenticates the caller when a Bearer token is sent and
// lets anonymous requests through untouched. A token that is present but
// invalid is still rejected so clients know to refresh it.
func OptionalJWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c)
			if !ok {
				return next(c)
			}
			if err := authenticate(c, secret, raw); err != nil {
				return unauthorized(c, "invalid token")
			}
			return next(c)
		}
	}
}

func bearer(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return raw, raw != ""
}

func authenticate(c echo.Context, secret, raw string) error {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return echo.ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return echo.ErrUnauthorized
	}
	// sub is encoded as a JSON number.
	sub, ok := claims["sub"].(float64)
	if !ok || sub < 1 {
		return echo.ErrUnauthorized
	}
	role, _ := claims["role"].(string)
	email, _ := claims["email"].(string)
	c.Set(ctxUserID, uint64(sub))
	c.Set(ctxRole, role)
	c.Set(ctxEmail, email)
	return nil
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": msg})
}
