package services

import (
	"context"
	"strings"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/pkg/errors"
)

var ErrInvalidOverride = errors.New("price override needs a known provider, a product code and a positive price")

type PriceOverrideRepository interface {
	Upsert(ctx context.Context, o *model.PriceOverride) (*model.PriceOverride, error)
	Delete(ctx context.Context, provider model.Provider, productCode string) error
	List(ctx context.Context, provider *model.Provider) ([]*model.PriceOverride, error)
}

type PriceOverrideService struct {
	repo PriceOverrideRepository
}

func NewPriceOverrideService(repo PriceOverrideRepository) *PriceOverrideService {
	return &PriceOverrideService{repo: repo}
}

func (s *PriceOverrideService) List(ctx context.Context, provider *model.Provider) ([]*model.PriceOverride, error) {
	return s.repo.List(ctx, provider)
}

func (s *PriceOverrideService) Set(ctx context.Context, o model.PriceOverride) (*model.PriceOverride, error) {
	o.ProductCode = strings.TrimSpace(o.ProductCode)
	if !o.Provider.Valid() || o.ProductCode == "" || o.Price <= 0 {
		return nil, ErrInvalidOverride
	}
	return s.repo.Upsert(ctx, &o)
}

func (s *PriceOverrideService) Remove(ctx context.Context, provider model.Provider, productCode string) error {
	if !provider.Valid() {
		return ErrInvalidOverride
	}
	return s.repo.Delete(ctx, provider, productCode)
}
