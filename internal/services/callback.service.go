package services

import (
	"context"
	"net"

	gateway "github.com/nimasrn/voucher-gateway/internal/gateways"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/repository"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/pkg/errors"
)

var (
	ErrInvalidCallback        = errors.New("callback body is not a transaction update")
	ErrCallbackSignature      = errors.New("callback signature mismatch")
	ErrCallbackSourceRejected = errors.New("callback source address is not allowed")
	ErrCallbackUnknownRef     = errors.New("callback references an unknown transaction")
)

type CallbackSettler interface {
	ApplyCallback(ctx context.Context, id string, outcome *gateway.Outcome) (*ReconcileResult, error)
}

// CallbackService accepts Voucher-A status pushes.
type CallbackService struct {
	settler CallbackSettler
	creds   gateway.CredentialSource
}

func NewCallbackService(settler CallbackSettler, creds gateway.CredentialSource) *CallbackService {
	return &CallbackService{settler: settler, creds: creds}
}

func (s *CallbackService) HandleDigiflazz(ctx context.Context, body []byte, signature, remoteIP string) (*ReconcileResult, error) {
	settings, err := s.creds.ProviderSettings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load callback settings")
	}
	if settings.DigiflazzWebhookSecret == "" {
		return nil, errors.Wrap(ErrProviderNotConfigured, "digiflazz webhook secret missing")
	}
	if allowed := settings.DigiflazzIPAllowList(); len(allowed) > 0 && !ipAllowed(remoteIP, allowed) {
		logger.Warn("callback from unexpected address", "provider", model.ProviderVoucherA, "remote_ip", remoteIP)
		return nil, ErrCallbackSourceRejected
	}
	if !gateway.VerifyDigiflazzSignature(settings.DigiflazzWebhookSecret, body, signature) {
		logger.Warn("callback signature mismatch", "provider", model.ProviderVoucherA, "remote_ip", remoteIP)
		return nil, ErrCallbackSignature
	}

	refID, err := gateway.DigiflazzCallbackRefID(body)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCallback, err.Error())
	}

	outcome := gateway.ParseDigiflazzResponse(200, body)
	result, err := s.settler.ApplyCallback(ctx, refID, outcome)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, errors.Wrapf(ErrCallbackUnknownRef, "%s", refID)
		}
		return nil, err
	}
	return result, nil
}

func ipAllowed(remote string, allowed []string) bool {
	ip := net.ParseIP(remote)
	if ip == nil {
		return false
	}
	for _, entry := range allowed {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			if network.Contains(ip) {
				return true
			}
			continue
		}
		if other := net.ParseIP(entry); other != nil && other.Equal(ip) {
			return true
		}
	}
	return false
}
