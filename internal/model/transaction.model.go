package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TransactionStatus is the lifecycle state of an order. Sukses and Gagal are terminal.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "Pending"
	StatusSukses  TransactionStatus = "Sukses"
	StatusGagal   TransactionStatus = "Gagal"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSukses || s == StatusGagal
}

func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Provider selects the upstream that services a transaction for its whole life.
type Provider string

const (
	ProviderVoucherA Provider = "digiflazz"
	ProviderVoucherB Provider = "tokovoucher"
)

// Providers lists every supported upstream.
var Providers = []Provider{ProviderVoucherA, ProviderVoucherB}

func (p Provider) Valid() bool {
	return p == ProviderVoucherA || p == ProviderVoucherB
}

// DisplayName is the label used in notifications and reports.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderVoucherA:
		return "Digiflazz"
	case ProviderVoucherB:
		return "TokoVoucher"
	}
	return string(p)
}

type Source string

const (
	SourceWeb Source = "web"
	SourceAPI Source = "api"
)

type Transaction struct {
	ID                    string            `json:"id"`
	ProductName           string            `json:"product_name"`
	Details               string            `json:"details"`
	CostPrice             int64             `json:"cost_price"`
	SellingPrice          int64             `json:"selling_price"`
	Status                TransactionStatus `json:"status"`
	Timestamp             time.Time         `json:"timestamp"`
	SerialNumber          string            `json:"serial_number,omitempty"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	BuyerSkuCode          string            `json:"buyer_sku_code"`
	OriginalCustomerNo    string            `json:"original_customer_no"`
	ProductCategory       string            `json:"product_category"`
	ProductBrand          string            `json:"product_brand"`
	Provider              Provider          `json:"provider"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	Source                Source            `json:"source"`
	CategoryKey           string            `json:"category_key"`
	PriceRepaired         bool              `json:"price_repaired,omitempty"`
	RepairedAt            *time.Time        `json:"repaired_at,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

func (t *Transaction) Profit() int64 {
	return t.SellingPrice - t.CostPrice
}

// Destination returns the customer number without the Voucher-B server suffix.
func (t *Transaction) Destination() string {
	dest, _ := SplitDestination(t.OriginalCustomerNo)
	return dest
}

const destinationSeparator = "|"

// JoinDestination packs a destination and an optional server id into the
// single stored customer number.
func JoinDestination(destination, serverID string) string {
	if serverID == "" {
		return destination
	}
	return destination + destinationSeparator + serverID
}

func SplitDestination(stored string) (destination, serverID string) {
	destination, serverID, _ = strings.Cut(stored, destinationSeparator)
	return destination, serverID
}

// Settlement is the terminal write applied by a Pending -> Sukses|Gagal transition.
type Settlement struct {
	Status                TransactionStatus
	SerialNumber          string
	FailureReason         string
	ProviderTransactionID string
	SettledAt             time.Time
}

// PendingRef is the minimum the reconciliation scheduler needs per transaction.
type PendingRef struct {
	ID       string
	Provider Provider
}

var (
	ErrMissingProvider    = errors.New("provider is required")
	ErrUnknownProvider    = errors.New("provider is not supported")
	ErrMissingProductCode = errors.New("product code is required")
	ErrMissingDestination = errors.New("destination is required")
	ErrInvalidDestination = errors.New("destination and server id must not contain '|'")
	ErrNegativeCostPrice  = errors.New("cost price must not be negative")
	ErrMissingProductName = errors.New("product name is required")
)

type CreateOrderRequest struct {
	Username    string   `json:"username"`
	Pin         string   `json:"pin"`
	Provider    Provider `json:"provider"`
	ProductCode string   `json:"product_code"`
	ProductName string   `json:"product_name"`
	Destination string   `json:"destination"`
	ServerID    string   `json:"server_id,omitempty"`
	CostPrice   int64    `json:"cost_price"`
	Category    string   `json:"category"`
	Brand       string   `json:"brand"`
	Details     string   `json:"details,omitempty"`
	Source      Source   `json:"source,omitempty"`
}

func (r CreateOrderRequest) Validate() error {
	switch {
	case r.Provider == "":
		return ErrMissingProvider
	case !r.Provider.Valid():
		return ErrUnknownProvider
	case strings.TrimSpace(r.ProductCode) == "":
		return ErrMissingProductCode
	case strings.TrimSpace(r.ProductName) == "":
		return ErrMissingProductName
	case strings.TrimSpace(r.Destination) == "":
		return ErrMissingDestination
	case strings.Contains(r.Destination, destinationSeparator), strings.Contains(r.ServerID, destinationSeparator):
		return ErrInvalidDestination
	case r.CostPrice < 0:
		return ErrNegativeCostPrice
	}
	return nil
}

// TransactionFilter is an AND of independent predicates; nil/empty fields match everything.
type TransactionFilter struct {
	Category *string
	Statuses []TransactionStatus
	Provider *Provider
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

func (f TransactionFilter) Matches(t *Transaction) bool {
	if f.Category != nil && !strings.EqualFold(*f.Category, t.CategoryKey) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == t.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Provider != nil && *f.Provider != t.Provider {
		return false
	}
	if f.From != nil && t.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && t.Timestamp.After(*f.To) {
		return false
	}
	return true
}
