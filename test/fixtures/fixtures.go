package fixtures

import (
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
)

const (
	TestUsername = "reseller01"
	TestPin      = "123456"
)

var (
	TestVoucherASettings = model.ProviderSettings{
		DigiflazzUsername:      "reseller",
		DigiflazzApiKey:        "dev-key",
		DigiflazzWebhookSecret: "hook-secret",
	}

	TestVoucherBSettings = model.ProviderSettings{
		TokoVoucherMemberCode: "M1",
		TokoVoucherSignature:  "toko-signature",
		TokoVoucherKey:        "toko-secret",
	}
)

func NewTestOrderRequest(provider model.Provider, productCode, destination string, costPrice int64) model.CreateOrderRequest {
	return model.CreateOrderRequest{
		Username:    TestUsername,
		Pin:         TestPin,
		Provider:    provider,
		ProductCode: productCode,
		ProductName: "Telkomsel 10.000",
		Destination: destination,
		CostPrice:   costPrice,
		Category:    "Pulsa",
		Brand:       "TELKOMSEL",
		Source:      model.SourceAPI,
	}
}

func OrderRequestVoucherA() model.CreateOrderRequest {
	return NewTestOrderRequest(model.ProviderVoucherA, "TSEL10", "081234567890", 10200)
}

// OrderRequestVoucherB targets a game top-up with a server id.
func OrderRequestVoucherB() model.CreateOrderRequest {
	req := NewTestOrderRequest(model.ProviderVoucherB, "ML86", "123456789", 19000)
	req.ProductName = "Mobile Legends 86 Diamonds"
	req.Category = "Games"
	req.Brand = "MOBILE LEGENDS"
	req.ServerID = "2001"
	return req
}

func OrderRequestMissingDestination() model.CreateOrderRequest {
	req := OrderRequestVoucherA()
	req.Destination = ""
	return req
}

func OrderRequestUnknownProvider() model.CreateOrderRequest {
	req := OrderRequestVoucherA()
	req.Provider = model.Provider("voucher_c")
	return req
}

func NewTestTransaction(id string, provider model.Provider, status model.TransactionStatus, ts time.Time) *model.Transaction {
	return &model.Transaction{
		ID:                 id,
		ProductName:        "Telkomsel 10.000",
		CostPrice:          10200,
		SellingPrice:       11000,
		Status:             status,
		Timestamp:          ts,
		BuyerSkuCode:       "TSEL10",
		OriginalCustomerNo: "081234567890",
		ProductCategory:    "Pulsa",
		ProductBrand:       "TELKOMSEL",
		Provider:           provider,
		Source:             model.SourceWeb,
	}
}

func PendingTransaction(id string) *model.Transaction {
	return NewTestTransaction(id, model.ProviderVoucherA, model.StatusPending, time.Now())
}

func SettledTransaction(id string, status model.TransactionStatus) *model.Transaction {
	txn := NewTestTransaction(id, model.ProviderVoucherA, status, time.Now())
	switch status {
	case model.StatusSukses:
		txn.SerialNumber = "SN-" + id
	case model.StatusGagal:
		txn.FailureReason = "Nomor tujuan salah"
	}
	return txn
}

var (
	ValidDestinations = []string{
		"081234567890",
		"085712345678",
		"123456789",
	}

	InvalidPins = []string{
		"",
		"12345",
		"1234567",
		"abcdef",
	}
)

func FilterByStatus(statuses ...model.TransactionStatus) model.TransactionFilter {
	return model.TransactionFilter{
		Statuses: statuses,
		Limit:    50,
	}
}

func FilterByProvider(p model.Provider) model.TransactionFilter {
	return model.TransactionFilter{
		Provider: &p,
		Limit:    50,
	}
}

func FilterByTimeRange(from, to time.Time) model.TransactionFilter {
	return model.TransactionFilter{
		From:  &from,
		To:    &to,
		Limit: 50,
	}
}
