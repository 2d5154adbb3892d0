package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderSettings_Merge(t *testing.T) {
	stored := ProviderSettings{DigiflazzUsername: "stored-user", TelegramChatID: "1, 2"}
	fallback := ProviderSettings{
		DigiflazzUsername: "env-user",
		DigiflazzApiKey:   "env-key",
		TelegramBotToken:  "env-token",
	}

	merged := stored.Merge(fallback)
	assert.Equal(t, "stored-user", merged.DigiflazzUsername)
	assert.Equal(t, "env-key", merged.DigiflazzApiKey)
	assert.Equal(t, "env-token", merged.TelegramBotToken)
	assert.True(t, merged.DigiflazzConfigured())
	assert.False(t, merged.TokoVoucherConfigured())
}

func TestProviderSettings_Lists(t *testing.T) {
	s := ProviderSettings{TelegramChatID: " 1001, ,-1002 ,", AllowedDigiflazzIPs: "52.74.250.133"}
	assert.Equal(t, []string{"1001", "-1002"}, s.TelegramChatIDs())
	assert.Equal(t, []string{"52.74.250.133"}, s.DigiflazzIPAllowList())
	assert.Empty(t, ProviderSettings{}.TelegramChatIDs())
}
