package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/middleware"
	"github.com/iliyamo/luthier-storefront/internal/service"
)

// AccountHandler serves the signed-in customer's address book and order
// history. Every route sits behind JWTAuth.
type AccountHandler struct {
	Addresses *service.AddressService
	Orders    *service.OrderService
	Log       *zap.Logger
}

func NewAccountHandler(addresses *service.AddressService, orders *service.OrderService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{Addresses: addresses, Orders: orders, Log: log}
}

func (h *AccountHandler) ListAddresses(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	list, err := h.Addresses.List(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"addresses": list})
}

func (h *AccountHandler) CreateAddress(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	var in service.AddressInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	a, err := h.Addresses.Create(ctx, uid, in)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *AccountHandler) UpdateAddress(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid address id")
	}
	var in service.AddressInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	a, err := h.Addresses.Update(ctx, uid, id, in)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *AccountHandler) DeleteAddress(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid address id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Addresses.Delete(ctx, uid, id); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListOrders returns the caller's orders, including guest orders placed
// with the same email.
func (h *AccountHandler) ListOrders(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	orders, err := h.Orders.ListForCustomer(ctx, *actor(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": orders})
}

func (h *AccountHandler) GetOrder(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.GetForCustomer(ctx, *actor(c), c.Param("orderNumber"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, o)
}
