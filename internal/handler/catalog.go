package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/service"
)

// CatalogHandler serves the public instrument catalog.
type CatalogHandler struct {
	Catalog *service.CatalogService
	Log     *zap.Logger
}

func NewCatalogHandler(catalog *service.CatalogService, log *zap.Logger) *CatalogHandler {
	return &CatalogHandler{Catalog: catalog, Log: log}
}

// List handles GET /api/instruments?locale=&status=&type=&q=.
func (h *CatalogHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	insts, err := h.Catalog.List(ctx, model.InstrumentFilter{
		Status: model.InstrumentStatus(strings.ToLower(c.QueryParam("status"))),
		Type:   strings.TrimSpace(c.QueryParam("type")),
		Locale: strings.ToLower(c.QueryParam("locale")),
		Query:  c.QueryParam("q"),
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"instruments": insts})
}

// Get handles GET /api/instruments/:slug?locale=.
func (h *CatalogHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	inst, err := h.Catalog.GetBySlug(ctx, c.Param("slug"), strings.ToLower(c.QueryParam("locale")))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, inst)
}
