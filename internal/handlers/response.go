package handlers

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	gateway "github.com/nimasrn/voucher-gateway/internal/gateways"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/nimasrn/voucher-gateway/internal/services"
	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/pkg/errors"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorMapping struct {
	targets []error
	status  int
	code    string
}

var errorMappings = []errorMapping{
	{
		targets: []error{
			model.ErrMissingProvider, model.ErrUnknownProvider, model.ErrMissingProductCode,
			model.ErrMissingProductName, model.ErrMissingDestination, model.ErrInvalidDestination, model.ErrNegativeCostPrice,
			gateway.ErrUnknownProvider, services.ErrInvalidPinFormat, services.ErrInvalidRange,
			services.ErrInvalidOverride, services.ErrInvalidCallback,
		},
		status: xhttp.StatusBadRequest,
		code:   "invalid_request",
	},
	{targets: []error{services.ErrInvalidPin}, status: xhttp.StatusUnauthorized, code: "invalid_pin"},
	{targets: []error{services.ErrCallbackSignature}, status: xhttp.StatusUnauthorized, code: "invalid_signature"},
	{targets: []error{services.ErrCallbackSourceRejected}, status: xhttp.StatusForbidden, code: "source_not_allowed"},
	{
		targets: []error{repository.ErrTransactionNotFound, repository.ErrPriceOverrideNotFound, services.ErrCallbackUnknownRef},
		status:  xhttp.StatusNotFound,
		code:    "not_found",
	},
	{targets: []error{repository.ErrDuplicateTransaction}, status: xhttp.StatusConflict, code: "duplicate"},
	{targets: []error{services.ErrProviderNotConfigured}, status: xhttp.StatusUnprocessableEntity, code: "provider_not_configured"},
	{targets: []error{services.ErrReconcileFailed}, status: xhttp.StatusBadGateway, code: "provider_unavailable"},
}

// writeServiceError maps a service error onto its HTTP status. Anything
// unmapped is logged and hidden behind a 500.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	for _, m := range errorMappings {
		for _, target := range m.targets {
			if errors.Is(err, target) {
				writeError(ctx, m.status, m.code, err.Error())
				return
			}
		}
	}
	logger.Error("request failed", "path", string(ctx.Path()), "error", err)
	writeError(ctx, xhttp.StatusInternalServerError, "internal", "internal error")
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, code, msg string) {
	writeJSON(ctx, status, errorResponse{Error: msg, Code: code})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func queryInt(ctx *xhttp.RequestCtx, key string) int {
	n, _ := strconv.Atoi(query(ctx, key))
	return n
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP headers
// are believed. Anyone else is identified by the socket address.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies reads a comma separated list of IPs or CIDRs.
func ParseTrustedProxies(list string) (TrustedProxies, error) {
	var proxies TrustedProxies
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, errors.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid trusted proxy %q", entry)
		}
		proxies = append(proxies, network)
	}
	return proxies, nil
}

func (p TrustedProxies) contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP is the socket peer unless that peer is a trusted proxy. Behind a
// trusted proxy it is the right-most X-Forwarded-For hop that is not itself
// trusted, or X-Real-IP when no chain was sent.
func clientIP(ctx *xhttp.RequestCtx, proxies TrustedProxies) string {
	peer := ctx.RemoteIP()
	if !proxies.contains(peer) {
		return peer.String()
	}

	if fwd := string(ctx.Request.Header.Peek("X-Forwarded-For")); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			if !proxies.contains(ip) || i == 0 {
				return ip.String()
			}
		}
	}
	if realIP := net.ParseIP(strings.TrimSpace(string(ctx.Request.Header.Peek("X-Real-IP")))); realIP != nil {
		return realIP.String()
	}
	return peer.String()
}
