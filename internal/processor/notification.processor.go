package processor

import (
	"context"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/notify"
	"github.com/nimasrn/voucher-gateway/internal/queue"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/pkg/errors"
)

var ErrNoDestinationReached = errors.New("notification reached no destination")

type NoticeDeliverer interface {
	Deliver(ctx context.Context, notice model.SettlementNotice) notify.Report
}

// NotificationProcessor delivers settlement notices taken from the outbox.
type NotificationProcessor struct {
	deliverer NoticeDeliverer
}

func NewNotificationProcessor(deliverer NoticeDeliverer) *NotificationProcessor {
	return &NotificationProcessor{deliverer: deliverer}
}

func (p *NotificationProcessor) GetType() string {
	return "notification"
}

// Process returns an error only when every destination failed, so a partial
// delivery is not repeated to the destinations that already got it.
func (p *NotificationProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var notice model.SettlementNotice
	if err := msg.Decode(&notice); err != nil {
		logger.Error("undecodable notification in outbox", "id", msg.ID, "error", err)
		return errors.Wrap(err, "decode notice")
	}

	report := p.deliverer.Deliver(ctx, notice)
	if report.Sent == 0 && report.Failed > 0 {
		return errors.Wrapf(ErrNoDestinationReached, "ref_id %s, attempt %d", notice.RefID, msg.Attempts)
	}

	logger.Debug("notification delivered", "ref_id", notice.RefID, "status", notice.Status,
		"sent", report.Sent, "failed", report.Failed, "attempt", msg.Attempts)
	return nil
}
