package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole rejects callers whose role is not one of roles with 403. It
// must run after JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "message": "insufficient role"})
			}
			return next(c)
		}
	}
}

// RequireInternalSecret guards server-to-server endpoints with a shared
// secret sent in X-Internal-Secret. An empty configured secret closes
// the endpoint.
func RequireInternalSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get("X-Internal-Secret")
			if secret == "" || !constantTimeEqual(got, secret) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "message": "invalid internal secret"})
			}
			return next(c)
		}
	}
}
