package xhttp

import (
	"github.com/fasthttp/router"
)

type Router = router.Router

// CreateDefaultRouter returns a router with strict path handling and JSON-free
// 404/405 responses.
func CreateDefaultRouter() *Router {
	r := router.New()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	ctx.Error(StatusText(StatusNotFound), StatusNotFound)
}

func MethodNotAllowedHandler(ctx *RequestCtx) {
	ctx.Error(StatusText(StatusMethodNotAllowed), StatusMethodNotAllowed)
}
