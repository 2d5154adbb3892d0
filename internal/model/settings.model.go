package model

import "strings"

// ProviderSettings carries upstream credentials and notification destinations.
// It is resolved on every use so rotated credentials apply without a restart.
type ProviderSettings struct {
	DigiflazzUsername      string `json:"digiflazz_username,omitempty"`
	DigiflazzApiKey        string `json:"digiflazz_api_key,omitempty"`
	DigiflazzWebhookSecret string `json:"digiflazz_webhook_secret,omitempty"`
	AllowedDigiflazzIPs    string `json:"allowed_digiflazz_ips,omitempty"`
	TokoVoucherMemberCode  string `json:"tokovoucher_member_code,omitempty"`
	TokoVoucherSignature   string `json:"tokovoucher_signature,omitempty"`
	TokoVoucherKey         string `json:"tokovoucher_key,omitempty"`
	TelegramBotToken       string `json:"telegram_bot_token,omitempty"`
	TelegramChatID         string `json:"telegram_chat_id,omitempty"`
	NotifyWebhookUrl       string `json:"notify_webhook_url,omitempty"`
}

func (s ProviderSettings) DigiflazzConfigured() bool {
	return s.DigiflazzUsername != "" && s.DigiflazzApiKey != ""
}

func (s ProviderSettings) TokoVoucherConfigured() bool {
	return s.TokoVoucherMemberCode != "" && s.TokoVoucherSignature != "" && s.TokoVoucherKey != ""
}

// TelegramChatIDs splits the comma separated chat id list, dropping blanks.
func (s ProviderSettings) TelegramChatIDs() []string {
	return splitList(s.TelegramChatID)
}

func (s ProviderSettings) DigiflazzIPAllowList() []string {
	return splitList(s.AllowedDigiflazzIPs)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Merge fills every empty field of s from fallback.
func (s ProviderSettings) Merge(fallback ProviderSettings) ProviderSettings {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return ProviderSettings{
		DigiflazzUsername:      pick(s.DigiflazzUsername, fallback.DigiflazzUsername),
		DigiflazzApiKey:        pick(s.DigiflazzApiKey, fallback.DigiflazzApiKey),
		DigiflazzWebhookSecret: pick(s.DigiflazzWebhookSecret, fallback.DigiflazzWebhookSecret),
		AllowedDigiflazzIPs:    pick(s.AllowedDigiflazzIPs, fallback.AllowedDigiflazzIPs),
		TokoVoucherMemberCode:  pick(s.TokoVoucherMemberCode, fallback.TokoVoucherMemberCode),
		TokoVoucherSignature:   pick(s.TokoVoucherSignature, fallback.TokoVoucherSignature),
		TokoVoucherKey:         pick(s.TokoVoucherKey, fallback.TokoVoucherKey),
		TelegramBotToken:       pick(s.TelegramBotToken, fallback.TelegramBotToken),
		TelegramChatID:         pick(s.TelegramChatID, fallback.TelegramChatID),
		NotifyWebhookUrl:       pick(s.NotifyWebhookUrl, fallback.NotifyWebhookUrl),
	}
}
