package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

const tokoVoucherTransactionPath = "/v1/transaksi"

type tokoVoucherRequest struct {
	RefID      string `json:"ref_id"`
	Produk     string `json:"produk"`
	Tujuan     string `json:"tujuan"`
	ServerID   string `json:"server_id,omitempty"`
	MemberCode string `json:"member_code"`
	Signature  string `json:"signature"`
}

type tokoVoucherResponse struct {
	Status   json.RawMessage `json:"status"`
	Message  string          `json:"message"`
	ErrorMsg string          `json:"error_msg"`
	SN       string          `json:"sn"`
	TrxID    string          `json:"trx_id"`
	RefID    string          `json:"ref_id"`
	Price    decimal.Decimal `json:"price"`
}

// TokoVoucherAdapter speaks the Voucher-B protocol. Requests are signed with
// md5(memberCode:secretKey:refId).
type TokoVoucherAdapter struct {
	pool  *Pool
	creds CredentialSource
}

func NewTokoVoucherAdapter(pool *Pool, creds CredentialSource) *TokoVoucherAdapter {
	return &TokoVoucherAdapter{pool: pool, creds: creds}
}

func (a *TokoVoucherAdapter) Provider() model.Provider {
	return model.ProviderVoucherB
}

func (a *TokoVoucherAdapter) Purchase(ctx context.Context, req PurchaseRequest) (*Outcome, error) {
	settings, err := a.creds.ProviderSettings(ctx)
	if err != nil {
		return errorOutcome("settings unavailable: %v", err), nil
	}
	if !settings.TokoVoucherConfigured() {
		return nil, errors.Wrap(ErrNotConfigured, "tokovoucher member code, signature or key missing")
	}

	body, err := json.Marshal(tokoVoucherRequest{
		RefID:      req.RefID,
		Produk:     req.ProductCode,
		Tujuan:     req.Destination,
		ServerID:   req.ServerID,
		MemberCode: settings.TokoVoucherMemberCode,
		Signature:  TokoVoucherSignature(settings.TokoVoucherMemberCode, settings.TokoVoucherKey, req.RefID),
	})
	if err != nil {
		return errorOutcome("encode tokovoucher request: %v", err), nil
	}

	resp, err := a.pool.Do(ctx, Request{Method: fasthttp.MethodPost, Path: tokoVoucherTransactionPath, Body: body})
	if err != nil {
		logger.Warn("tokovoucher transport failure", "ref_id", req.RefID, "error", err)
		prom.IncProviderOutcome(string(model.ProviderVoucherB), string(OutcomeError))
		return errorOutcome("tokovoucher unreachable: %v", err), nil
	}

	outcome := ParseTokoVoucherResponse(resp.StatusCode, resp.Body)
	outcome.Latency = resp.Latency
	prom.IncProviderOutcome(string(model.ProviderVoucherB), string(outcome.Status))
	logger.Debug("tokovoucher outcome", "ref_id", req.RefID, "status", outcome.Status, "trx_id", outcome.ProviderTransactionID)
	return outcome, nil
}

func TokoVoucherSignature(memberCode, secret, refID string) string {
	return md5Hex(memberCode, ":", secret, ":", refID)
}

// ParseTokoVoucherResponse normalizes a transaction response. The status
// field is a word on business answers and a numeric 0 on request errors.
func ParseTokoVoucherResponse(statusCode int, body []byte) *Outcome {
	if statusCode < 200 || statusCode >= 300 {
		o := errorOutcome("tokovoucher returned http %d", statusCode)
		o.Raw = body
		return o
	}

	var r tokoVoucherResponse
	if err := json.Unmarshal(body, &r); err != nil {
		o := errorOutcome("decode tokovoucher response: %v", err)
		o.Raw = body
		return o
	}

	outcome := &Outcome{
		ProviderTransactionID: r.TrxID,
		Price:                 r.Price.IntPart(),
		Raw:                   body,
	}

	var word string
	if err := json.Unmarshal(r.Status, &word); err != nil {
		word = "error"
	}
	outcome.ResponseCode = word

	switch strings.ToLower(strings.TrimSpace(word)) {
	case "sukses", "success":
		outcome.Status = OutcomeSukses
		outcome.IsSuccess = true
		outcome.SerialNumber = r.SN
		outcome.Message = r.Message
	case "pending", "proses":
		outcome.Status = OutcomePending
		outcome.Message = r.Message
	case "gagal", "failed":
		outcome.Status = OutcomeGagal
		// the upstream puts its refusal reason in sn for failed orders
		outcome.Message = firstNonEmpty(r.SN, r.Message, "transaksi gagal")
	default:
		outcome.Status = OutcomeError
		outcome.Message = firstNonEmpty(r.ErrorMsg, r.Message, "tokovoucher request rejected")
	}
	return outcome
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
