package gateway

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

type EndpointMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewEndpointMetrics() *EndpointMetrics {
	return &EndpointMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *EndpointMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *EndpointMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *EndpointMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *EndpointMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *EndpointMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	sorted := make([]int64, len(m.latencyHistory))
	copy(sorted, m.latencyHistory)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type EndpointState int32

const (
	StateHealthy EndpointState = iota
	StateCircuitOpen
)

// Endpoint is one base URL of an upstream with its own health bookkeeping.
type Endpoint struct {
	baseURL          string
	host             string
	metrics          *EndpointMetrics
	state            atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewEndpoint(baseURL string) *Endpoint {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &Endpoint{
		baseURL: baseURL,
		host:    host,
		metrics: NewEndpointMetrics(),
	}
}

func (e *Endpoint) State() EndpointState {
	return EndpointState(e.state.Load())
}

// IsAvailable half-opens the circuit once the cooldown has passed.
func (e *Endpoint) IsAvailable() bool {
	if e.State() != StateCircuitOpen {
		return true
	}
	if time.Now().UnixNano() > e.circuitOpenUntil.Load() {
		e.state.Store(int32(StateHealthy))
		e.metrics.ConsecutiveFails.Store(0)
		return true
	}
	return false
}

// Score ranks endpoints, higher is better. Zero means unusable.
func (e *Endpoint) Score() float64 {
	if !e.IsAvailable() {
		return 0
	}

	latencyScore := 100.0
	if avg := e.metrics.AvgLatencyMs(); avg > 0 {
		latencyScore = 100.0 * (1.0 - float64(avg)/10000.0)
		if latencyScore < 1 {
			latencyScore = 1
		}
	}

	penalty := 1.0 - float64(e.metrics.ConsecutiveFails.Load())*0.2
	if penalty < 0.1 {
		penalty = 0.1
	}

	return (e.metrics.SuccessRate()*100*0.6 + latencyScore*0.4) * penalty
}

// Doer is satisfied by *fasthttp.Client; tests inject in-memory dialers.
type Doer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

type PoolConfig struct {
	Provider                string
	BaseURLs                []string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	CircuitBreakerThreshold int32
	CircuitBreakerCooldown  time.Duration
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type Response struct {
	StatusCode int
	Body       []byte
	Endpoint   string
	Latency    time.Duration
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Pool spreads calls for one upstream over its endpoints, preferring the
// best scoring one and failing over on transport errors and 5xx answers.
type Pool struct {
	config    PoolConfig
	doer      Doer
	endpoints []*Endpoint
}

func NewPool(config PoolConfig, doer Doer) (*Pool, error) {
	if len(config.BaseURLs) == 0 {
		return nil, errors.Errorf("%s: at least one base url is required", config.Provider)
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 250 * time.Millisecond
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerCooldown <= 0 {
		config.CircuitBreakerCooldown = 30 * time.Second
	}
	if doer == nil {
		doer = &fasthttp.Client{
			Name:                "voucher-gateway",
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: time.Minute,
		}
	}

	p := &Pool{config: config, doer: doer}
	for _, u := range config.BaseURLs {
		p.endpoints = append(p.endpoints, NewEndpoint(u))
		logger.Info("provider endpoint initialized", "provider", config.Provider, "url", u)
	}
	return p, nil
}

func (p *Pool) selectEndpoint(tried map[*Endpoint]bool) *Endpoint {
	var best *Endpoint
	var bestScore float64
	for _, e := range p.endpoints {
		if tried[e] {
			continue
		}
		if score := e.Score(); score > bestScore {
			best, bestScore = e, score
		}
	}
	return best
}

// Do sends req, retrying on another endpoint when the transport fails or the
// upstream answers 5xx. The last 5xx response is returned as is; an error is
// returned only if no endpoint produced any response.
func (p *Pool) Do(ctx context.Context, req Request) (*Response, error) {
	tried := make(map[*Endpoint]bool, len(p.endpoints))
	var lastResp *Response
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastResp, ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}

		if len(tried) == len(p.endpoints) {
			tried = make(map[*Endpoint]bool, len(p.endpoints))
		}
		endpoint := p.selectEndpoint(tried)
		if endpoint == nil {
			lastErr = ErrNoAvailableEndpoints
			continue
		}
		tried[endpoint] = true

		start := time.Now()
		resp, err := p.doRequest(ctx, endpoint, req)
		prom.AddProviderRequestDuration(time.Since(start).Seconds(), p.config.Provider, endpoint.host)
		if err != nil {
			endpoint.metrics.RecordFailure()
			p.checkCircuitBreaker(endpoint)
			logger.Warn("provider request failed", "provider", p.config.Provider, "endpoint", endpoint.host, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			endpoint.metrics.RecordFailure()
			p.checkCircuitBreaker(endpoint)
			logger.Warn("provider answered with server error", "provider", p.config.Provider, "endpoint", endpoint.host, "status", resp.StatusCode)
			lastResp = resp
			continue
		}

		endpoint.metrics.RecordSuccess(resp.Latency.Milliseconds())
		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, errors.Wrapf(lastErr, "%s: failed after %d attempts", p.config.Provider, p.config.MaxRetries+1)
}

func (p *Pool) doRequest(ctx context.Context, endpoint *Endpoint, r Request) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := endpoint.baseURL + r.Path
	if len(r.Query) > 0 {
		uri += "?" + r.Query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(r.Method)
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(r.Body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.config.Timeout)
	}

	start := time.Now()
	if err := p.doer.DoDeadline(req, resp, deadline); err != nil {
		return nil, errors.Wrap(err, "request failed")
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       body,
		Endpoint:   endpoint.host,
		Latency:    time.Since(start),
	}, nil
}

func (p *Pool) checkCircuitBreaker(endpoint *Endpoint) {
	fails := endpoint.metrics.ConsecutiveFails.Load()
	if fails < p.config.CircuitBreakerThreshold {
		return
	}
	endpoint.state.Store(int32(StateCircuitOpen))
	endpoint.circuitOpenUntil.Store(time.Now().Add(p.config.CircuitBreakerCooldown).UnixNano())
	logger.Warn("circuit breaker opened", "provider", p.config.Provider, "endpoint", endpoint.host,
		"consecutive_fails", fails, "cooldown", p.config.CircuitBreakerCooldown)
}

type EndpointStats struct {
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"total_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

// Stats returns per-endpoint health ordered by score.
func (p *Pool) Stats() []EndpointStats {
	stats := make([]EndpointStats, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		state := "HEALTHY"
		if e.State() == StateCircuitOpen {
			state = "CIRCUIT_OPEN"
		}
		stats = append(stats, EndpointStats{
			URL:              e.baseURL,
			State:            state,
			Score:            e.Score(),
			TotalRequests:    e.metrics.TotalRequests.Load(),
			FailedReqs:       e.metrics.FailedReqs.Load(),
			SuccessRate:      e.metrics.SuccessRate(),
			AvgLatencyMs:     e.metrics.AvgLatencyMs(),
			P95LatencyMs:     e.metrics.P95LatencyMs(),
			ConsecutiveFails: e.metrics.ConsecutiveFails.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}
