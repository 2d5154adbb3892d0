package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

const ChannelWebhook = "webhook"

var errWebhookRejected = errors.New("webhook rejected notice")

// WebhookChannel POSTs the notice as JSON, backing off exponentially between
// attempts. 4xx answers are not retried.
type WebhookChannel struct {
	doer      Doer
	timeout   time.Duration
	attempts  int
	baseDelay time.Duration
}

func NewWebhookChannel(doer Doer, timeout time.Duration) *WebhookChannel {
	if doer == nil {
		doer = &fasthttp.Client{Name: "voucher-gateway", ReadTimeout: timeout, WriteTimeout: timeout}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{doer: doer, timeout: timeout, attempts: 3, baseDelay: 500 * time.Millisecond}
}

func (c *WebhookChannel) Send(ctx context.Context, url string, notice model.SettlementNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return errors.Wrap(err, "encode webhook notice")
	}

	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "webhook cancelled")
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = c.post(ctx, url, notice.RefID, body)
		if lastErr == nil || errors.Is(lastErr, errWebhookRejected) {
			return lastErr
		}
	}
	return errors.Wrapf(lastErr, "webhook failed after %d attempts", c.attempts)
}

func (c *WebhookChannel) post(ctx context.Context, url, refID string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Ref-Id", refID)
	req.SetBody(body)

	if err := c.doer.DoDeadline(req, resp, deadline(ctx, c.timeout)); err != nil {
		return err
	}
	switch code := resp.StatusCode(); {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500:
		return errors.Wrapf(errWebhookRejected, "http %d", code)
	default:
		return errors.Errorf("webhook returned http %d", code)
	}
}
