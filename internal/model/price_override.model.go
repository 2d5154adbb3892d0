package model

import "time"

// PriceOverride pins the selling price of one provider product code.
type PriceOverride struct {
	Provider    Provider  `json:"provider"`
	ProductCode string    `json:"product_code"`
	Price       int64     `json:"price"`
	UpdatedAt   time.Time `json:"updated_at"`
}
