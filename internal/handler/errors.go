package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/middleware"
	"github.com/iliyamo/luthier-storefront/internal/service"
)

// respondError writes err as a JSON error body. Service errors carry
// their own status, code and details; anything else is logged and
// answered with a generic 500.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	if se, ok := service.AsError(err); ok {
		body := echo.Map{"error": se.Code}
		if se.Message != "" {
			body["message"] = se.Message
		}
		for k, v := range se.Details {
			body[k] = v
		}
		return c.JSON(se.Status, body)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, echo.Map{"error": http.StatusText(he.Code)})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "something went wrong"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": service.CodeInvalidRequest, "message": msg})
}

// bind decodes the JSON body into v. The caller must stop and answer
// with the returned error: v may be partly filled.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return &service.Error{Status: http.StatusBadRequest, Code: service.CodeInvalidRequest, Message: "invalid JSON body"}
	}
	return nil
}

// paramID parses a positive numeric path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// actor returns the authenticated caller, or nil for guests.
func actor(c echo.Context) *service.Actor {
	id, ok := middleware.UserID(c)
	if !ok {
		return nil
	}
	return &service.Actor{UserID: id, Email: middleware.Email(c), Role: middleware.Role(c)}
}
