package notify

import (
	"context"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
)

// DestinationSource resolves bot token, chat ids and webhook url at send time.
type DestinationSource interface {
	ProviderSettings(ctx context.Context) (*model.ProviderSettings, error)
}

type telegramSender interface {
	Send(ctx context.Context, token, chatID, text string) error
}

type webhookSender interface {
	Send(ctx context.Context, url string, notice model.SettlementNotice) error
}

// Report counts the per-destination results of one delivery.
type Report struct {
	Sent   int
	Failed int
}

type Dispatcher struct {
	destinations DestinationSource
	telegram     telegramSender
	webhook      webhookSender
}

func NewDispatcher(destinations DestinationSource, telegram *TelegramChannel, webhook *WebhookChannel) *Dispatcher {
	d := &Dispatcher{destinations: destinations}
	if telegram != nil {
		d.telegram = telegram
	}
	if webhook != nil {
		d.webhook = webhook
	}
	return d
}

// Notify delivers a notice and never fails the caller.
func (d *Dispatcher) Notify(ctx context.Context, notice model.SettlementNotice) {
	d.Deliver(ctx, notice)
}

// Deliver sends the notice to every configured destination. A failing
// destination is logged and does not stop the others.
func (d *Dispatcher) Deliver(ctx context.Context, notice model.SettlementNotice) Report {
	var report Report

	settings, err := d.destinations.ProviderSettings(ctx)
	if err != nil {
		logger.Warn("notification skipped, settings unavailable", "ref_id", notice.RefID, "error", err)
		return report
	}

	chatIDs := settings.TelegramChatIDs()
	if d.telegram != nil && settings.TelegramBotToken != "" && len(chatIDs) > 0 {
		text := FormatNotice(notice)
		for _, chatID := range chatIDs {
			if err := d.telegram.Send(ctx, settings.TelegramBotToken, chatID, text); err != nil {
				report.Failed++
				prom.IncNotifySend(ChannelTelegram, "failed")
				logger.Warn("telegram notification failed", "ref_id", notice.RefID, "chat_id", chatID, "error", err)
				continue
			}
			report.Sent++
			prom.IncNotifySend(ChannelTelegram, "sent")
			logger.Debug("telegram notification sent", "ref_id", notice.RefID, "chat_id", chatID)
		}
	}

	if d.webhook != nil && settings.NotifyWebhookUrl != "" {
		if err := d.webhook.Send(ctx, settings.NotifyWebhookUrl, notice); err != nil {
			report.Failed++
			prom.IncNotifySend(ChannelWebhook, "failed")
			logger.Warn("webhook notification failed", "ref_id", notice.RefID, "error", err)
		} else {
			report.Sent++
			prom.IncNotifySend(ChannelWebhook, "sent")
		}
	}

	return report
}
