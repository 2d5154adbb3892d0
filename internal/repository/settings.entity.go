package repository

import (
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
)

type SettingEntity struct {
	Key       string    `db:"key"        gorm:"primaryKey;column:key;size:64"`
	Value     string    `db:"value"      gorm:"column:value;not null"`
	UpdatedAt time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (SettingEntity) TableName() string {
	return "app_settings"
}

// settingFields binds each stored key to its ProviderSettings field.
func settingFields(s *model.ProviderSettings) map[string]*string {
	return map[string]*string{
		"digiflazz_username":       &s.DigiflazzUsername,
		"digiflazz_api_key":        &s.DigiflazzApiKey,
		"digiflazz_webhook_secret": &s.DigiflazzWebhookSecret,
		"allowed_digiflazz_ips":    &s.AllowedDigiflazzIPs,
		"tokovoucher_member_code":  &s.TokoVoucherMemberCode,
		"tokovoucher_signature":    &s.TokoVoucherSignature,
		"tokovoucher_key":          &s.TokoVoucherKey,
		"telegram_bot_token":       &s.TelegramBotToken,
		"telegram_chat_id":         &s.TelegramChatID,
		"notify_webhook_url":       &s.NotifyWebhookUrl,
	}
}
