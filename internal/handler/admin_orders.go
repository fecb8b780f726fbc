package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/service"
)

// AdminOrderHandler lets the shop owner browse orders and move them
// through their lifecycle.
type AdminOrderHandler struct {
	Orders *service.OrderService
	Log    *zap.Logger
}

func NewAdminOrderHandler(orders *service.OrderService, log *zap.Logger) *AdminOrderHandler {
	return &AdminOrderHandler{Orders: orders, Log: log}
}

// List handles GET /api/admin/orders?status=&page=&limit=.
func (h *AdminOrderHandler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	status := model.OrderStatus(strings.ToLower(strings.TrimSpace(c.QueryParam("status"))))
	if status != "" && !status.Valid() {
		return badRequest(c, "unknown order status")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Orders.List(ctx, model.OrderFilter{Status: status, Page: page, Limit: limit})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *AdminOrderHandler) Get(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, o)
}

// UpdateStatus handles PATCH /api/admin/orders/:id/status.
func (h *AdminOrderHandler) UpdateStatus(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order id")
	}
	var in service.StatusUpdate
	if err := bind(c, &in); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, id, in)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, o)
}
