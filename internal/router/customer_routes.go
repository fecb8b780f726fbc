package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/luthier-storefront/internal/handler"
	"github.com/iliyamo/luthier-storefront/internal/middleware"
)

// RegisterAccount registers the signed-in user's address book and order
// history under /api/account. Any authenticated role may use them.
func RegisterAccount(e *echo.Echo, h *handler.AccountHandler, jwtSecret string) {
	g := e.Group("/api/account", middleware.JWTAuth(jwtSecret))

	g.GET("/addresses", h.ListAddresses)
	g.POST("/addresses", h.CreateAddress)
	g.PUT("/addresses/:id", h.UpdateAddress)
	g.DELETE("/addresses/:id", h.DeleteAddress)

	g.GET("/orders", h.ListOrders)
	g.GET("/orders/:orderNumber", h.GetOrder)
}
