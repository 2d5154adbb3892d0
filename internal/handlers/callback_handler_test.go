package handlers

import (
	"context"
	"net"
	"testing"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/services"
	xhttp "github.com/nimasrn/voucher-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testProxies(t *testing.T) TrustedProxies {
	t.Helper()
	proxies, err := ParseTrustedProxies("10.0.0.0/8, 192.0.2.10")
	require.NoError(t, err)
	return proxies
}

func fromPeer(ctx *xhttp.RequestCtx, ip string) {
	ctx.SetRemoteAddr(&net.TCPAddr{IP: net.ParseIP(ip), Port: 40000})
}

type MockCallbackService struct {
	mock.Mock
}

func (m *MockCallbackService) HandleDigiflazz(ctx context.Context, body []byte, signature, remoteIP string) (*services.ReconcileResult, error) {
	args := m.Called(ctx, body, signature, remoteIP)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReconcileResult), args.Error(1)
}

func TestCallbackHandler_Digiflazz(t *testing.T) {
	body := []byte(`{"data":{"ref_id":"TRX1","status":"Sukses","sn":"SN1"}}`)

	t.Run("applied", func(t *testing.T) {
		svc := new(MockCallbackService)
		handler := NewCallbackHandler(svc, testProxies(t))
		svc.On("HandleDigiflazz", mock.Anything, body, "sha1=abc", "203.0.113.7").Return(&services.ReconcileResult{
			Transaction:  &model.Transaction{ID: "TRX1", Status: model.StatusSukses},
			Transitioned: true,
		}, nil)

		ctx := setupTestContext("POST", "/api/v1/callbacks/digiflazz", body)
		ctx.Request.Header.Set(HeaderHubSignature, "sha1=abc")
		ctx.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		fromPeer(ctx, "10.0.0.2")
		handler.Digiflazz(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("bad signature", func(t *testing.T) {
		svc := new(MockCallbackService)
		handler := NewCallbackHandler(svc, testProxies(t))
		svc.On("HandleDigiflazz", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, services.ErrCallbackSignature)

		ctx := setupTestContext("POST", "/api/v1/callbacks/digiflazz", body)
		handler.Digiflazz(ctx)

		assert.Equal(t, 401, ctx.Response.StatusCode())
		assert.Equal(t, "invalid_signature", decodeError(t, ctx).Code)
	})

	t.Run("source not allowed", func(t *testing.T) {
		svc := new(MockCallbackService)
		handler := NewCallbackHandler(svc, testProxies(t))
		svc.On("HandleDigiflazz", mock.Anything, mock.Anything, mock.Anything, "198.51.100.2").Return(nil, services.ErrCallbackSourceRejected)

		ctx := setupTestContext("POST", "/api/v1/callbacks/digiflazz", body)
		ctx.Request.Header.Set("X-Real-IP", "198.51.100.2")
		fromPeer(ctx, "192.0.2.10")
		handler.Digiflazz(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})

	t.Run("forwarded header from untrusted peer is ignored", func(t *testing.T) {
		svc := new(MockCallbackService)
		handler := NewCallbackHandler(svc, testProxies(t))
		svc.On("HandleDigiflazz", mock.Anything, body, "", "198.51.100.9").Return(nil, services.ErrCallbackSourceRejected)

		ctx := setupTestContext("POST", "/api/v1/callbacks/digiflazz", body)
		ctx.Request.Header.Set("X-Forwarded-For", "52.74.36.1")
		ctx.Request.Header.Set("X-Real-IP", "52.74.36.1")
		fromPeer(ctx, "198.51.100.9")
		handler.Digiflazz(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})
}

func TestClientIP(t *testing.T) {
	proxies := testProxies(t)

	tests := []struct {
		name    string
		peer    string
		fwd     string
		realIP  string
		proxies TrustedProxies
		want    string
	}{
		{"no proxies configured", "198.51.100.9", "52.74.36.1", "", nil, "198.51.100.9"},
		{"untrusted peer", "198.51.100.9", "52.74.36.1", "52.74.36.1", proxies, "198.51.100.9"},
		{"trusted peer single hop", "10.1.2.3", "52.74.36.1", "", proxies, "52.74.36.1"},
		{"spoofed left-most hop is skipped", "10.1.2.3", "52.74.36.1, 203.0.113.7", "", proxies, "203.0.113.7"},
		{"trusted hops are walked", "10.1.2.3", "203.0.113.7, 10.0.0.5, 192.0.2.10", "", proxies, "203.0.113.7"},
		{"real ip from trusted peer", "192.0.2.10", "", "203.0.113.8", proxies, "203.0.113.8"},
		{"trusted peer without headers", "10.1.2.3", "", "", proxies, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := setupTestContext("POST", "/api/v1/callbacks/digiflazz", nil)
			fromPeer(ctx, tt.peer)
			if tt.fwd != "" {
				ctx.Request.Header.Set("X-Forwarded-For", tt.fwd)
			}
			if tt.realIP != "" {
				ctx.Request.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, clientIP(ctx, tt.proxies))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies(" 10.0.0.0/8 ,192.0.2.10,,2001:db8::1")
	require.NoError(t, err)
	assert.Len(t, proxies, 3)
	assert.True(t, proxies.contains(net.ParseIP("10.9.9.9")))
	assert.True(t, proxies.contains(net.ParseIP("192.0.2.10")))
	assert.False(t, proxies.contains(net.ParseIP("192.0.2.11")))
	assert.True(t, proxies.contains(net.ParseIP("2001:db8::1")))

	_, err = ParseTrustedProxies("10.0.0.0/33")
	assert.Error(t, err)
	_, err = ParseTrustedProxies("proxy.internal")
	assert.Error(t, err)
}
