package repository

import (
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
)

type PriceOverrideEntity struct {
	Provider    string    `db:"provider"     gorm:"primaryKey;column:provider;size:32"`
	ProductCode string    `db:"product_code" gorm:"primaryKey;column:product_code;size:64"`
	Price       int64     `db:"price"        gorm:"column:price;not null"`
	UpdatedAt   time.Time `db:"updated_at"   gorm:"column:updated_at;autoUpdateTime"`
}

func (PriceOverrideEntity) TableName() string {
	return "price_overrides"
}

func toPriceOverrideEntity(m *model.PriceOverride) *PriceOverrideEntity {
	return &PriceOverrideEntity{
		Provider:    string(m.Provider),
		ProductCode: m.ProductCode,
		Price:       m.Price,
	}
}

func toPriceOverrideModel(e *PriceOverrideEntity) *model.PriceOverride {
	return &model.PriceOverride{
		Provider:    model.Provider(e.Provider),
		ProductCode: e.ProductCode,
		Price:       e.Price,
		UpdatedAt:   e.UpdatedAt,
	}
}
