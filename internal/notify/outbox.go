package notify

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
)

const publishTimeout = 2 * time.Second

type Publisher interface {
	PublishJSON(ctx context.Context, v any, metadata map[string]string) (string, error)
}

// OutboxNotifier hands notices to the outbox stream so the request path
// never waits on Telegram or webhook delivery. Publishing itself runs in the
// background; Wait drains it on shutdown.
type OutboxNotifier struct {
	publisher Publisher
	inflight  sync.WaitGroup
}

func NewOutboxNotifier(publisher Publisher) *OutboxNotifier {
	return &OutboxNotifier{publisher: publisher}
}

func (n *OutboxNotifier) Notify(ctx context.Context, notice model.SettlementNotice) {
	pctx := context.WithoutCancel(ctx)
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.publish(pctx, notice)
	}()
}

// Wait blocks until every queued publish has finished or timeout passes.
func (n *OutboxNotifier) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		logger.Warn("notification publishes still running at shutdown")
		return false
	}
}

func (n *OutboxNotifier) publish(ctx context.Context, notice model.SettlementNotice) {
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id, err := n.publisher.PublishJSON(pctx, notice, map[string]string{
		"ref_id":  notice.RefID,
		"status":  string(notice.Status),
		"trigger": notice.Trigger,
	})
	if err != nil {
		prom.IncNotifySend("outbox", "failed")
		logger.Warn("failed to queue notification", "ref_id", notice.RefID, "provider", notice.Provider, "error", err)
		return
	}
	logger.Debug("notification queued", "ref_id", notice.RefID, "entry", id)
}
