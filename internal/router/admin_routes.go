package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/luthier-storefront/internal/handler"
	"github.com/iliyamo/luthier-storefront/internal/middleware"
	"github.com/iliyamo/luthier-storefront/internal/model"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /api/admin.
func RegisterAdmin(e *echo.Echo, o *handler.AdminOrderHandler, i *handler.AdminInstrumentHandler, jwtSecret string) {
	g := e.Group(
		"/api/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)

	// ---- Orders ----
	g.GET("/orders", o.List)
	g.GET("/orders/:id", o.Get)
	g.PATCH("/orders/:id/status", o.UpdateStatus)

	// ---- Instruments ----
	g.POST("/instruments", i.Create)
	g.PUT("/instruments/:id", i.Update)
	g.DELETE("/instruments/:id", i.Delete)
	g.PUT("/instruments/:id/translations/:locale", i.PutTranslation)
}
