package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/services"
	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
	"github.com/pkg/errors"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error)
	Reconcile(ctx context.Context, id string) (*services.ReconcileResult, error)
	DeleteOrder(ctx context.Context, id string) error
	Attempts(ctx context.Context, id string) ([]*model.ProviderAttempt, error)
	ProfitReport(ctx context.Context, from, to time.Time) (*model.ProfitReport, error)
}

type TransactionHandler struct {
	svc OrderService
	now func() time.Time
}

func RegisterTransactionRoutes(e *router.Group, h *TransactionHandler) {
	e.POST("/orders", h.CreateOrder)
	e.GET("/transactions", h.ListTransactions)
	e.GET("/transactions/{id}", h.GetTransaction)
	e.POST("/transactions/{id}/reconcile", h.ReconcileTransaction)
	e.DELETE("/transactions/{id}", h.DeleteTransaction)
	e.GET("/transactions/{id}/attempts", h.ListAttempts)
	e.GET("/reports/profit", h.ProfitReport)
}

func NewTransactionHandler(svc OrderService) *TransactionHandler {
	return &TransactionHandler{svc: svc, now: time.Now}
}

type listResponse struct {
	Items []*model.Transaction `json:"items"`
	Count int                  `json:"count"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *TransactionHandler) CreateOrder(ctx *xhttp.RequestCtx) {
	var req model.CreateOrderRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Source == "" {
		req.Source = model.SourceAPI
	}

	txn, err := h.svc.PlaceOrder(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, txn)
}

func (h *TransactionHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	f, err := parseFilter(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	items, err := h.svc.ListTransactions(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse{Items: items, Count: len(items)})
}

func (h *TransactionHandler) GetTransaction(ctx *xhttp.RequestCtx) {
	txn, err := h.svc.GetTransaction(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, txn)
}

func (h *TransactionHandler) ReconcileTransaction(ctx *xhttp.RequestCtx) {
	result, err := h.svc.Reconcile(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, result)
}

func (h *TransactionHandler) ListAttempts(ctx *xhttp.RequestCtx) {
	attempts, err := h.svc.Attempts(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"items": attempts})
}

func (h *TransactionHandler) DeleteTransaction(ctx *xhttp.RequestCtx) {
	if err := h.svc.DeleteOrder(ctx, pathParam(ctx, "id")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}

// ProfitReport defaults to the last 30 days when the range is open.
func (h *TransactionHandler) ProfitReport(ctx *xhttp.RequestCtx) {
	to := h.now()
	from := to.AddDate(0, 0, -30)

	if v := query(ctx, "from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid from: "+v)
			return
		}
		from = t
	}
	if v := query(ctx, "to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid_request", "invalid to: "+v)
			return
		}
		to = t
	}

	report, err := h.svc.ProfitReport(ctx, from, to)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, report)
}

func parseFilter(ctx *xhttp.RequestCtx) (model.TransactionFilter, error) {
	var f model.TransactionFilter

	if v := strings.TrimSpace(query(ctx, "category")); v != "" {
		f.Category = &v
	}
	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status := model.TransactionStatus(part)
			if !status.Valid() {
				return f, errors.Errorf("unknown status: %s", part)
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if v := query(ctx, "provider"); v != "" {
		p := model.Provider(strings.ToLower(v))
		if !p.Valid() {
			return f, errors.Errorf("unknown provider: %s", v)
		}
		f.Provider = &p
	}
	if v := query(ctx, "from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, errors.Errorf("invalid from: %s", v)
		}
		f.From = &t
	}
	if v := query(ctx, "to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, errors.Errorf("invalid to: %s", v)
		}
		f.To = &t
	}
	f.Limit = queryInt(ctx, "limit")
	f.Offset = queryInt(ctx, "offset")
	return f, nil
}
