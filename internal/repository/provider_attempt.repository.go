package repository

import (
	"context"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/pkg/errors"
)

// ProviderAttemptRepository is an append-only log of upstream exchanges.
type ProviderAttemptRepository struct {
	*pg.DB
}

func NewProviderAttemptRepository(db *pg.DB) *ProviderAttemptRepository {
	return &ProviderAttemptRepository{
		db,
	}
}

func (r *ProviderAttemptRepository) Append(ctx context.Context, attempt *model.ProviderAttempt) error {
	entity := toProviderAttemptEntity(attempt)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return errors.Wrap(err, "append provider attempt")
	}
	attempt.ID = entity.ID
	attempt.CreatedAt = entity.CreatedAt
	return nil
}

func (r *ProviderAttemptRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*model.ProviderAttempt, error) {
	var entities []*ProviderAttemptEntity
	err := r.Read(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, errors.Wrap(err, "list provider attempts")
	}

	attempts := make([]*model.ProviderAttempt, len(entities))
	for i, e := range entities {
		attempts[i] = toProviderAttemptModel(e)
	}
	return attempts, nil
}
