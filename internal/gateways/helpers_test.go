package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/valyala/fasthttp"
)

type stubCreds struct {
	settings *model.ProviderSettings
	err      error
}

func (s *stubCreds) ProviderSettings(ctx context.Context) (*model.ProviderSettings, error) {
	return s.settings, s.err
}

type recordedRequest struct {
	URI    string
	Method string
	Body   []byte
}

// fakeDoer answers every call with the next scripted reply and records what
// it was sent.
type fakeDoer struct {
	mu       sync.Mutex
	replies  []fakeReply
	requests []recordedRequest
}

type fakeReply struct {
	status int
	body   string
	err    error
}

func (f *fakeDoer) DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, recordedRequest{
		URI:    req.URI().String(),
		Method: string(req.Header.Method()),
		Body:   append([]byte(nil), req.Body()...),
	})

	idx := len(f.requests) - 1
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	reply := f.replies[idx]
	if reply.err != nil {
		return reply.err
	}
	resp.SetStatusCode(reply.status)
	resp.SetBodyString(reply.body)
	return nil
}

func (f *fakeDoer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestPool(doer Doer, urls ...string) *Pool {
	if len(urls) == 0 {
		urls = []string{"http://upstream.test"}
	}
	p, err := NewPool(PoolConfig{
		Provider:   "test",
		BaseURLs:   urls,
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, doer)
	if err != nil {
		panic(err)
	}
	return p
}
