package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/voucher-gateway/internal/model"
	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
)

type PriceOverrideService interface {
	List(ctx context.Context, provider *model.Provider) ([]*model.PriceOverride, error)
	Set(ctx context.Context, o model.PriceOverride) (*model.PriceOverride, error)
	Remove(ctx context.Context, provider model.Provider, productCode string) error
}

type PriceOverrideHandler struct {
	svc PriceOverrideService
}

func RegisterPriceOverrideRoutes(e *router.Group, h *PriceOverrideHandler) {
	e.GET("/price-overrides", h.ListOverrides)
	e.PUT("/price-overrides", h.SetOverride)
	e.DELETE("/price-overrides/{provider}/{code}", h.RemoveOverride)
}

func NewPriceOverrideHandler(svc PriceOverrideService) *PriceOverrideHandler {
	return &PriceOverrideHandler{svc: svc}
}

func (h *PriceOverrideHandler) ListOverrides(ctx *xhttp.RequestCtx) {
	var provider *model.Provider
	if v := query(ctx, "provider"); v != "" {
		p := model.Provider(strings.ToLower(v))
		provider = &p
	}

	items, err := h.svc.List(ctx, provider)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"items": items})
}

func (h *PriceOverrideHandler) SetOverride(ctx *xhttp.RequestCtx) {
	var req model.PriceOverride
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	saved, err := h.svc.Set(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, saved)
}

func (h *PriceOverrideHandler) RemoveOverride(ctx *xhttp.RequestCtx) {
	provider := model.Provider(strings.ToLower(pathParam(ctx, "provider")))
	if err := h.svc.Remove(ctx, provider, pathParam(ctx, "code")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}
