package model

import "time"

// SettlementNotice is the payload handed to the notification dispatcher.
type SettlementNotice struct {
	RefID                 string            `json:"ref_id"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	Provider              Provider          `json:"provider"`
	ProductName           string            `json:"product_name"`
	Destination           string            `json:"destination"`
	Status                TransactionStatus `json:"status"`
	CostPrice             int64             `json:"cost_price"`
	SellingPrice          int64             `json:"selling_price"`
	Profit                int64             `json:"profit"`
	SerialNumber          string            `json:"serial_number,omitempty"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	Trigger               string            `json:"trigger"`
	Timestamp             time.Time         `json:"timestamp"`
}

func NoticeFromTransaction(t *Transaction, trigger string) SettlementNotice {
	return SettlementNotice{
		RefID:                 t.ID,
		ProviderTransactionID: t.ProviderTransactionID,
		Provider:              t.Provider,
		ProductName:           t.ProductName,
		Destination:           t.Destination(),
		Status:                t.Status,
		CostPrice:             t.CostPrice,
		SellingPrice:          t.SellingPrice,
		Profit:                t.Profit(),
		SerialNumber:          t.SerialNumber,
		FailureReason:         t.FailureReason,
		Trigger:               trigger,
		Timestamp:             t.Timestamp,
	}
}
