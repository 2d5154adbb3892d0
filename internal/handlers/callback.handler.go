package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/voucher-gateway/internal/services"
	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
)

const HeaderHubSignature = "X-Hub-Signature"

type CallbackService interface {
	HandleDigiflazz(ctx context.Context, body []byte, signature, remoteIP string) (*services.ReconcileResult, error)
}

type CallbackHandler struct {
	svc     CallbackService
	proxies TrustedProxies
}

func RegisterCallbackRoutes(e *router.Group, h *CallbackHandler) {
	e.POST("/callbacks/digiflazz", h.Digiflazz)
}

func NewCallbackHandler(svc CallbackService, proxies TrustedProxies) *CallbackHandler {
	return &CallbackHandler{svc: svc, proxies: proxies}
}

// Digiflazz acknowledges a status push once it has been applied or found
// to be already settled.
func (h *CallbackHandler) Digiflazz(ctx *xhttp.RequestCtx) {
	body := append([]byte(nil), ctx.PostBody()...)
	signature := string(ctx.Request.Header.Peek(HeaderHubSignature))

	result, err := h.svc.HandleDigiflazz(ctx, body, signature, clientIP(ctx, h.proxies))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, result)
}
