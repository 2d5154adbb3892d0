package repository

import (
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
)

type TransactionEntity struct {
	ID                    string     `db:"id"                      gorm:"primaryKey;column:id;size:64"`
	ProductName           string     `db:"product_name"            gorm:"column:product_name;not null"`
	Details               string     `db:"details"                 gorm:"column:details"`
	CostPrice             int64      `db:"cost_price"              gorm:"column:cost_price;not null"`
	SellingPrice          int64      `db:"selling_price"           gorm:"column:selling_price;not null"`
	Status                string     `db:"status"                  gorm:"column:status;not null;index"`
	Timestamp             time.Time  `db:"timestamp"               gorm:"column:timestamp;not null;index"`
	SerialNumber          string     `db:"serial_number"           gorm:"column:serial_number"`
	FailureReason         string     `db:"failure_reason"          gorm:"column:failure_reason"`
	BuyerSkuCode          string     `db:"buyer_sku_code"          gorm:"column:buyer_sku_code;not null"`
	OriginalCustomerNo    string     `db:"original_customer_no"    gorm:"column:original_customer_no;not null"`
	ProductCategory       string     `db:"product_category"        gorm:"column:product_category"`
	ProductBrand          string     `db:"product_brand"           gorm:"column:product_brand"`
	Provider              string     `db:"provider"                gorm:"column:provider;not null;index"`
	ProviderTransactionID string     `db:"provider_transaction_id" gorm:"column:provider_transaction_id"`
	Source                string     `db:"source"                  gorm:"column:source"`
	PriceRepaired         bool       `db:"price_repaired"          gorm:"column:price_repaired;not null;default:false"`
	RepairedAt            *time.Time `db:"repaired_at"             gorm:"column:repaired_at"`
	pg.Timestamps
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                    m.ID,
		ProductName:           m.ProductName,
		Details:               m.Details,
		CostPrice:             m.CostPrice,
		SellingPrice:          m.SellingPrice,
		Status:                string(m.Status),
		Timestamp:             m.Timestamp,
		SerialNumber:          m.SerialNumber,
		FailureReason:         m.FailureReason,
		BuyerSkuCode:          m.BuyerSkuCode,
		OriginalCustomerNo:    m.OriginalCustomerNo,
		ProductCategory:       m.ProductCategory,
		ProductBrand:          m.ProductBrand,
		Provider:              string(m.Provider),
		ProviderTransactionID: m.ProviderTransactionID,
		Source:                string(m.Source),
		PriceRepaired:         m.PriceRepaired,
		RepairedAt:            m.RepairedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                    e.ID,
		ProductName:           e.ProductName,
		Details:               e.Details,
		CostPrice:             e.CostPrice,
		SellingPrice:          e.SellingPrice,
		Status:                model.TransactionStatus(e.Status),
		Timestamp:             e.Timestamp,
		SerialNumber:          e.SerialNumber,
		FailureReason:         e.FailureReason,
		BuyerSkuCode:          e.BuyerSkuCode,
		OriginalCustomerNo:    e.OriginalCustomerNo,
		ProductCategory:       e.ProductCategory,
		ProductBrand:          e.ProductBrand,
		Provider:              model.Provider(e.Provider),
		ProviderTransactionID: e.ProviderTransactionID,
		Source:                model.Source(e.Source),
		PriceRepaired:         e.PriceRepaired,
		RepairedAt:            e.RepairedAt,
		CreatedAt:             e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
