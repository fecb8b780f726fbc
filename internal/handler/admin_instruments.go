package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/service"
)

// CachePurger drops cached catalog responses after a write.
type CachePurger interface {
	Purge(ctx context.Context)
}

// AdminInstrumentHandler edits the catalog.
type AdminInstrumentHandler struct {
	Catalog *service.CatalogService
	Cache   CachePurger
	Log     *zap.Logger
}

func NewAdminInstrumentHandler(catalog *service.CatalogService, cache CachePurger, log *zap.Logger) *AdminInstrumentHandler {
	return &AdminInstrumentHandler{Catalog: catalog, Cache: cache, Log: log}
}

type instrumentReq struct {
	service.InstrumentInput
	SkipAutoTranslate bool `json:"skipAutoTranslate"`
}

type translationReq struct {
	Title string `json:"title"`
	Notes string `json:"notes"`
}

func (h *AdminInstrumentHandler) purge(ctx context.Context) {
	if h.Cache != nil {
		h.Cache.Purge(ctx)
	}
}

func (h *AdminInstrumentHandler) Create(c echo.Context) error {
	var req instrumentReq
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	inst, err := h.Catalog.Create(ctx, req.InstrumentInput, service.SaveOptions{SkipAutoTranslate: req.SkipAutoTranslate})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusCreated, inst)
}

func (h *AdminInstrumentHandler) Update(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid instrument id")
	}
	var req instrumentReq
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	inst, err := h.Catalog.Update(ctx, id, req.InstrumentInput, service.SaveOptions{SkipAutoTranslate: req.SkipAutoTranslate})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.purge(ctx)
	return c.JSON(http.StatusOK, inst)
}

func (h *AdminInstrumentHandler) Delete(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid instrument id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Catalog.Delete(ctx, id); err != nil {
		return respondError(c, h.Log, err)
	}
	h.purge(ctx)
	return c.NoContent(http.StatusNoContent)
}

// PutTranslation handles PUT /api/admin/instruments/:id/translations/:locale
// for hand-edited translations.
func (h *AdminInstrumentHandler) PutTranslation(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid instrument id")
	}
	locale := strings.ToLower(strings.TrimSpace(c.Param("locale")))
	if locale == "" || len(locale) > 8 {
		return badRequest(c, "invalid locale")
	}
	var req translationReq
	if err := bind(c, &req); err != nil {
		return respondError(c, h.Log, err)
	}
	if strings.TrimSpace(req.Title) == "" {
		return badRequest(c, "title is required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Catalog.SaveTranslation(ctx, id, locale, strings.TrimSpace(req.Title), req.Notes); err != nil {
		return respondError(c, h.Log, err)
	}
	h.purge(ctx)
	return c.NoContent(http.StatusNoContent)
}
