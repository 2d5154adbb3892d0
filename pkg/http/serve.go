package xhttp

import (
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// Idle keep-alive connections are dropped after IdleTimeout so the
	// process does not run out of file descriptors under bursty traffic.
	IdleTimeout           time.Duration
	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration
	MaxRequestBodySize    int
	ReadBufferSize        int
	WriteBufferSize       int
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	Concurrency           int
	MaxConnsPerIP         int
}

var DefaultServerOption = ServerOption{
	Name:                  "voucher-gateway",
	IdleTimeout:           10 * time.Second,
	MaxIdleWorkerDuration: time.Minute,
	TCPKeepalivePeriod:    2 * time.Hour,
	MaxRequestBodySize:    1 * 1024 * 1024,
	ReadBufferSize:        4 * 1024,
	WriteBufferSize:       4 * 1024,
	ReadTimeout:           10 * time.Second,
	WriteTimeout:          30 * time.Second,
	Concurrency:           10_000,
	MaxConnsPerIP:         1_000,
}

type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:                      NotFoundHandler,
		Name:                         options.Name,
		Concurrency:                  options.Concurrency,
		ReadBufferSize:               options.ReadBufferSize,
		WriteBufferSize:              options.WriteBufferSize,
		ReadTimeout:                  options.ReadTimeout,
		WriteTimeout:                 options.WriteTimeout,
		IdleTimeout:                  options.IdleTimeout,
		MaxConnsPerIP:                options.MaxConnsPerIP,
		MaxIdleWorkerDuration:        options.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:           options.TCPKeepalivePeriod,
		MaxRequestBodySize:           options.MaxRequestBodySize,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultContentType:         true,
		CloseOnShutdown:              true,
		ErrorHandler: func(ctx *RequestCtx, err error) {
			logger.Warn("[xhttp] request error", "error", err)
		},
		Logger: logger.GetLogger(),
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: CreateDefaultRouter(),
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption)
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router as the server handler, wrapped by the
// middlewares in registration order (first registered runs first).
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}

	handler := e.Router.Handler
	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for _, m := range middle {
		handler = m(handler)
		logger.Debug("[xhttp] middleware registered", "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = handler
}

// Use appends middleware to the chain run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown gracefully stops the server without interrupting active connections.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down")
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
