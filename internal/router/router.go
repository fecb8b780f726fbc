// Package router registers the HTTP routes of the API. Each Register
// function owns one route group and the middleware it needs.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/luthier-storefront/internal/handler"
	"github.com/iliyamo/luthier-storefront/internal/metrics"
	"github.com/iliyamo/luthier-storefront/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", h.Ready)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// RegisterAuth registers the account and session routes. strict is the
// tighter rate limiter shared with checkout; OAuth sign-ins are only
// accepted from the frontend server holding internalSecret.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret, internalSecret string, strict echo.MiddlewareFunc) {
	g := e.Group("/api/auth")
	g.POST("/register", a.Register, strict)
	g.POST("/send-otp", a.SendOTP, strict)
	g.POST("/verify-otp", a.VerifyOTP, strict)
	g.POST("/login", a.Login, strict)
	g.POST("/oauth", a.OAuth, middleware.RequireInternalSecret(internalSecret))
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	authed := e.Group("/api/auth", middleware.JWTAuth(jwtSecret))
	authed.GET("/session", a.Session)
	authed.POST("/logout-all", a.LogoutAll)
}

// RegisterCatalog registers the public catalog. Responses go through the
// Redis response cache, which admin writes purge.
func RegisterCatalog(e *echo.Echo, h *handler.CatalogHandler, cache *middleware.ResponseCache) {
	g := e.Group("/api/instruments", cache.Middleware())
	g.GET("", h.List)
	g.GET("/:slug", h.Get)
}

// RegisterCheckout registers the checkout routes. Guests and signed-in
// customers share them; a bearer token, when sent, must be valid.
func RegisterCheckout(e *echo.Echo, h *handler.CheckoutHandler, jwtSecret string, strict echo.MiddlewareFunc) {
	g := e.Group("/api/checkout", middleware.OptionalJWT(jwtSecret))
	g.POST("/quote", h.Quote)
	g.POST("/create-reservation", h.CreateReservation, strict)
	g.POST("/create-payment-intent", h.CreatePaymentIntent)
}
