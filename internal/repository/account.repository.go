package repository

import (
	"context"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("username already exists")
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

func (r *AccountRepository) Create(ctx context.Context, a *model.Account) (*model.Account, error) {
	var exists int64
	if err := r.Write(ctx).Model(&AccountEntity{}).Where("username = ?", a.Username).Count(&exists).Error; err != nil {
		return nil, errors.Wrap(err, "check username")
	}
	if exists > 0 {
		return nil, ErrDuplicateAccount
	}

	entity := &AccountEntity{
		Username: a.Username,
		PinHash:  a.PinHash,
		Active:   a.Active,
	}
	// Select keeps an explicit false instead of falling back to the column default.
	if err := r.Write(ctx).Select("username", "pin_hash", "active", "created_at").Create(entity).Error; err != nil {
		return nil, errors.Wrap(err, "insert account")
	}
	return toAccountModel(entity), nil
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	var entity AccountEntity
	err := r.Read(ctx).Where("username = ?", username).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "load account")
	}
	return toAccountModel(&entity), nil
}
