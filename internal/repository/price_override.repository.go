package repository

import (
	"context"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPriceOverrideNotFound = errors.New("price override not found")

type PriceOverrideRepository struct {
	*pg.DB
}

func NewPriceOverrideRepository(db *pg.DB) *PriceOverrideRepository {
	return &PriceOverrideRepository{
		db,
	}
}

// FindPrice returns the override price, or 0 when none is configured.
func (r *PriceOverrideRepository) FindPrice(ctx context.Context, provider model.Provider, productCode string) (int64, error) {
	o, err := r.Find(ctx, provider, productCode)
	if err != nil {
		if errors.Is(err, ErrPriceOverrideNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return o.Price, nil
}

func (r *PriceOverrideRepository) Find(ctx context.Context, provider model.Provider, productCode string) (*model.PriceOverride, error) {
	var entity PriceOverrideEntity
	err := r.Read(ctx).
		Where("provider = ? AND product_code = ?", string(provider), productCode).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPriceOverrideNotFound
		}
		return nil, errors.Wrap(err, "load price override")
	}
	return toPriceOverrideModel(&entity), nil
}

func (r *PriceOverrideRepository) Upsert(ctx context.Context, o *model.PriceOverride) (*model.PriceOverride, error) {
	entity := toPriceOverrideEntity(o)
	err := r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "product_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "updated_at"}),
		}).
		Create(entity).Error
	if err != nil {
		return nil, errors.Wrap(err, "upsert price override")
	}
	return toPriceOverrideModel(entity), nil
}

func (r *PriceOverrideRepository) Delete(ctx context.Context, provider model.Provider, productCode string) error {
	result := r.Write(ctx).
		Where("provider = ? AND product_code = ?", string(provider), productCode).
		Delete(&PriceOverrideEntity{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "delete price override")
	}
	if result.RowsAffected == 0 {
		return ErrPriceOverrideNotFound
	}
	return nil
}

func (r *PriceOverrideRepository) List(ctx context.Context, provider *model.Provider) ([]*model.PriceOverride, error) {
	q := r.Read(ctx).Model(&PriceOverrideEntity{})
	if provider != nil {
		q = q.Where("provider = ?", string(*provider))
	}

	var entities []*PriceOverrideEntity
	if err := q.Order("provider ASC").Order("product_code ASC").Find(&entities).Error; err != nil {
		return nil, errors.Wrap(err, "list price overrides")
	}

	overrides := make([]*model.PriceOverride, len(entities))
	for i, e := range entities {
		overrides[i] = toPriceOverrideModel(e)
	}
	return overrides, nil
}
