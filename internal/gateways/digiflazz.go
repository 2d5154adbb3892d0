package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

const digiflazzTransactionPath = "/v1/transaction"

type digiflazzRequest struct {
	Username     string `json:"username"`
	BuyerSkuCode string `json:"buyer_sku_code"`
	CustomerNo   string `json:"customer_no"`
	RefID        string `json:"ref_id"`
	Sign         string `json:"sign"`
	Testing      bool   `json:"testing,omitempty"`
}

type digiflazzData struct {
	RefID        string          `json:"ref_id"`
	CustomerNo   string          `json:"customer_no"`
	BuyerSkuCode string          `json:"buyer_sku_code"`
	Message      string          `json:"message"`
	Status       string          `json:"status"`
	RC           string          `json:"rc"`
	SN           string          `json:"sn"`
	Price        decimal.Decimal `json:"price"`
}

type digiflazzEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// DigiflazzAdapter speaks the Voucher-A protocol. Requests are signed with
// md5(username + apiKey + refId).
type DigiflazzAdapter struct {
	pool    *Pool
	creds   CredentialSource
	testing bool
}

func NewDigiflazzAdapter(pool *Pool, creds CredentialSource, testing bool) *DigiflazzAdapter {
	return &DigiflazzAdapter{pool: pool, creds: creds, testing: testing}
}

func (a *DigiflazzAdapter) Provider() model.Provider {
	return model.ProviderVoucherA
}

func (a *DigiflazzAdapter) Purchase(ctx context.Context, req PurchaseRequest) (*Outcome, error) {
	settings, err := a.creds.ProviderSettings(ctx)
	if err != nil {
		return errorOutcome("settings unavailable: %v", err), nil
	}
	if !settings.DigiflazzConfigured() {
		return nil, errors.Wrap(ErrNotConfigured, "digiflazz username or api key missing")
	}

	body, err := json.Marshal(digiflazzRequest{
		Username:     settings.DigiflazzUsername,
		BuyerSkuCode: req.ProductCode,
		CustomerNo:   digiflazzCustomerNo(req.Destination, req.ServerID),
		RefID:        req.RefID,
		Sign:         md5Hex(settings.DigiflazzUsername, settings.DigiflazzApiKey, req.RefID),
		Testing:      a.testing,
	})
	if err != nil {
		return errorOutcome("encode digiflazz request: %v", err), nil
	}

	resp, err := a.pool.Do(ctx, Request{Method: fasthttp.MethodPost, Path: digiflazzTransactionPath, Body: body})
	if err != nil {
		logger.Warn("digiflazz transport failure", "ref_id", req.RefID, "error", err)
		prom.IncProviderOutcome(string(model.ProviderVoucherA), string(OutcomeError))
		return errorOutcome("digiflazz unreachable: %v", err), nil
	}

	outcome := ParseDigiflazzResponse(resp.StatusCode, resp.Body)
	outcome.Latency = resp.Latency
	prom.IncProviderOutcome(string(model.ProviderVoucherA), string(outcome.Status))
	logger.Debug("digiflazz outcome", "ref_id", req.RefID, "status", outcome.Status, "rc", outcome.ResponseCode)
	return outcome, nil
}

// digiflazzCustomerNo appends the zone/server id to the account id, the
// single customer_no form Digiflazz uses for two-field game products.
func digiflazzCustomerNo(destination, serverID string) string {
	return destination + serverID
}

// ParseDigiflazzResponse normalizes a transaction response or callback body.
// A non-2xx answer is honored when it still carries a transaction status.
func ParseDigiflazzResponse(statusCode int, body []byte) *Outcome {
	data, err := decodeDigiflazzData(body)
	if err != nil {
		if statusCode < 200 || statusCode >= 300 {
			o := errorOutcome("digiflazz returned http %d", statusCode)
			o.Raw = body
			return o
		}
		o := errorOutcome("decode digiflazz response: %v", err)
		o.Raw = body
		return o
	}
	if (statusCode < 200 || statusCode >= 300) && data.Status == "" && data.RC == "" {
		o := errorOutcome("digiflazz returned http %d", statusCode)
		o.Raw = body
		return o
	}

	status := normalizeDigiflazzStatus(data.Status, data.RC)
	outcome := &Outcome{
		IsSuccess:    status == OutcomeSukses,
		Status:       status,
		Message:      data.Message,
		ResponseCode: data.RC,
		Price:        data.Price.IntPart(),
		Raw:          body,
	}
	switch status {
	case OutcomeSukses:
		outcome.SerialNumber = data.SN
	case OutcomeGagal:
		if outcome.Message == "" {
			outcome.Message = "transaksi gagal (rc " + data.RC + ")"
		}
	case OutcomeError:
		outcome.Message = "digiflazz response without status"
	}
	return outcome
}

func decodeDigiflazzData(body []byte) (*digiflazzData, error) {
	var env digiflazzEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(env.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("missing data object")
	}
	var data digiflazzData
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DigiflazzCallbackRefID extracts ref_id from a callback body.
func DigiflazzCallbackRefID(body []byte) (string, error) {
	data, err := decodeDigiflazzData(body)
	if err != nil {
		return "", err
	}
	if data.RefID == "" {
		return "", errors.New("callback without ref_id")
	}
	return data.RefID, nil
}

// VerifyDigiflazzSignature checks the X-Hub-Signature header ("sha1=<hex>")
// against an HMAC-SHA1 of the raw body.
func VerifyDigiflazzSignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected := "sha1=" + hmacSHA1Hex(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(header))) == 1
}

func normalizeDigiflazzStatus(status, rc string) OutcomeStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "sukses", "success":
		return OutcomeSukses
	case "pending":
		return OutcomePending
	case "gagal", "failed":
		return OutcomeGagal
	}
	switch rc {
	case "00":
		return OutcomeSukses
	case "03", "99", "201":
		return OutcomePending
	case "":
		return OutcomeError
	}
	return OutcomeGagal
}
