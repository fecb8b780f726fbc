package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/service"
)

// CheckoutHandler turns client carts into reservations.
type CheckoutHandler struct {
	Reservations *service.ReservationService
	Log          *zap.Logger
}

func NewCheckoutHandler(res *service.ReservationService, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{Reservations: res, Log: log}
}

// Quote handles POST /api/checkout/quote.
func (h *CheckoutHandler) Quote(c echo.Context) error {
	var in service.QuoteInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	q, err := h.Reservations.Quote(ctx, in)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, q)
}

// CreateReservation handles POST /api/checkout/create-reservation. The
// caller may be a guest or a signed-in customer.
func (h *CheckoutHandler) CreateReservation(c echo.Context) error {
	var in service.ReservationInput
	if err := bind(c, &in); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Reservations.Create(ctx, in, actor(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CreatePaymentIntent handles POST /api/checkout/create-payment-intent.
// Card payments are switched off; buyers reserve instead.
func (h *CheckoutHandler) CreatePaymentIntent(c echo.Context) error {
	return respondError(c, h.Log, service.ErrPaymentsDisabled)
}
