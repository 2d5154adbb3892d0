package repository

import (
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
)

type AccountEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Username  string    `db:"username"   gorm:"column:username;not null;uniqueIndex;size:64"`
	PinHash   string    `db:"pin_hash"   gorm:"column:pin_hash;not null"`
	Active    bool      `db:"active"     gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (AccountEntity) TableName() string {
	return "accounts"
}

func toAccountModel(e *AccountEntity) *model.Account {
	return &model.Account{
		ID:        e.ID,
		Username:  e.Username,
		PinHash:   e.PinHash,
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
	}
}
