package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is any dependency the API cannot serve without.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps map[string]Pinger
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	cctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "success", Checks: make(map[string]string, len(h.deps))}
	status := xhttp.StatusOK
	for name, dep := range h.deps {
		if err := dep.Ping(cctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = xhttp.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(ctx, status, resp)
}
