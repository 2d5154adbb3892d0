package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

const ChannelTelegram = "telegram"

// Doer is satisfied by *fasthttp.Client.
type Doer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type TelegramChannel struct {
	apiURL  string
	doer    Doer
	timeout time.Duration
}

func NewTelegramChannel(apiURL string, doer Doer, timeout time.Duration) *TelegramChannel {
	if doer == nil {
		doer = &fasthttp.Client{Name: "voucher-gateway", ReadTimeout: timeout, WriteTimeout: timeout}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramChannel{apiURL: strings.TrimRight(apiURL, "/"), doer: doer, timeout: timeout}
}

// Send posts one MarkdownV2 message to one chat.
func (c *TelegramChannel) Send(ctx context.Context, token, chatID, text string) error {
	body, err := json.Marshal(telegramMessage{ChatID: chatID, Text: text, ParseMode: "MarkdownV2"})
	if err != nil {
		return errors.Wrap(err, "encode telegram message")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.apiURL + "/bot" + token + "/sendMessage")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.doer.DoDeadline(req, resp, deadline(ctx, c.timeout)); err != nil {
		return errors.Wrap(err, "telegram request failed")
	}

	var reply telegramReply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return errors.Errorf("telegram returned http %d with undecodable body", resp.StatusCode())
	}
	if !reply.OK {
		return errors.Errorf("telegram rejected message: %s", reply.Description)
	}
	return nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(timeout)
}
