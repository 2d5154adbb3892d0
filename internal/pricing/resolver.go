package pricing

import (
	"context"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
)

const (
	lowTierCeiling int64 = 20_000
	midTierCeiling int64 = 50_000
	lowTierMarkup  int64 = 1_000
	midTierMarkup  int64 = 1_500
	highTierMarkup int64 = 2_000
)

// OverrideLookup returns the admin configured price for a product, or zero
// when none exists.
type OverrideLookup interface {
	FindPrice(ctx context.Context, provider model.Provider, productCode string) (int64, error)
}

type Resolver struct {
	overrides OverrideLookup
}

func NewResolver(overrides OverrideLookup) *Resolver {
	return &Resolver{overrides: overrides}
}

// Resolve returns the price charged to the end customer. A positive override
// wins; anything else, including a failed lookup, falls back to DefaultMarkup.
func (r *Resolver) Resolve(ctx context.Context, costPrice int64, productCode string, provider model.Provider) int64 {
	if r.overrides != nil {
		price, err := r.overrides.FindPrice(ctx, provider, productCode)
		switch {
		case err != nil:
			logger.Warn("price override lookup failed, using default markup",
				"provider", provider, "product_code", productCode, "error", err)
		case price > 0:
			return price
		}
	}
	return DefaultMarkup(costPrice)
}

// DefaultMarkup applies the tiered markup over cost price.
func DefaultMarkup(costPrice int64) int64 {
	if costPrice < 0 {
		costPrice = 0
	}
	switch {
	case costPrice < lowTierCeiling:
		return costPrice + lowTierMarkup
	case costPrice <= midTierCeiling:
		return costPrice + midTierMarkup
	default:
		return costPrice + highTierMarkup
	}
}
