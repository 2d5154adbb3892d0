package repository

import (
	"context"
	"strings"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/pg"
	"github.com/pkg/errors"
	"gorm.io/gorm/clause"
)

// SettingsRepository stores provider settings as key/value rows so single
// credentials can be rotated without touching the rest.
type SettingsRepository struct {
	*pg.DB
}

func NewSettingsRepository(db *pg.DB) *SettingsRepository {
	return &SettingsRepository{
		db,
	}
}

func (r *SettingsRepository) Load(ctx context.Context) (*model.ProviderSettings, error) {
	var rows []*SettingEntity
	if err := r.Read(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load settings")
	}

	settings := &model.ProviderSettings{}
	fields := settingFields(settings)
	for _, row := range rows {
		if field, ok := fields[row.Key]; ok {
			*field = row.Value
		}
	}
	return settings, nil
}

// Save writes every non-empty field and removes rows for empty ones.
func (r *SettingsRepository) Save(ctx context.Context, settings *model.ProviderSettings) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		var cleared []string
		for key, value := range settingFields(settings) {
			v := strings.TrimSpace(*value)
			if v == "" {
				cleared = append(cleared, key)
				continue
			}
			err := r.Write(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "key"}},
					DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
				}).
				Create(&SettingEntity{Key: key, Value: v}).Error
			if err != nil {
				return errors.Wrapf(err, "save setting %s", key)
			}
		}

		if len(cleared) > 0 {
			if err := r.Write(ctx).Where("key IN ?", cleared).Delete(&SettingEntity{}).Error; err != nil {
				return errors.Wrap(err, "clear settings")
			}
		}
		return nil
	})
}
