package settings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/config"
	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
	"github.com/pkg/errors"
)

const cacheKey = "settings:providers"

type Store interface {
	Load(ctx context.Context) (*model.ProviderSettings, error)
	Save(ctx context.Context, settings *model.ProviderSettings) error
}

// Service resolves provider credentials and notification destinations on
// every call: Redis cache, then stored rows, then environment per field.
type Service struct {
	store    Store
	cache    redis.RedisAdapter
	ttl      time.Duration
	fallback model.ProviderSettings
}

func NewService(store Store, cache redis.RedisAdapter, ttl time.Duration, fallback model.ProviderSettings) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		ttl:      ttl,
		fallback: fallback,
	}
}

// FallbackFromConfig collects the credential fallbacks of the environment.
func FallbackFromConfig(cfg *config.Config) model.ProviderSettings {
	return model.ProviderSettings{
		DigiflazzUsername:      cfg.DigiflazzUsername,
		DigiflazzApiKey:        cfg.DigiflazzApiKey,
		DigiflazzWebhookSecret: cfg.DigiflazzWebhookSecret,
		AllowedDigiflazzIPs:    cfg.AllowedDigiflazzIPs,
		TokoVoucherMemberCode:  cfg.TokoVoucherMemberCode,
		TokoVoucherSignature:   cfg.TokoVoucherSignature,
		TokoVoucherKey:         cfg.TokoVoucherKey,
		TelegramBotToken:       cfg.TelegramBotToken,
		TelegramChatID:         cfg.TelegramChatID,
		NotifyWebhookUrl:       cfg.NotifyWebhookUrl,
	}
}

func (s *Service) ProviderSettings(ctx context.Context) (*model.ProviderSettings, error) {
	if cached, ok := s.fromCache(ctx); ok {
		return cached, nil
	}

	stored, err := s.store.Load(ctx)
	if err != nil {
		logger.Warn("settings store unavailable, using environment", "error", err)
		fallback := s.fallback
		return &fallback, nil
	}

	merged := stored.Merge(s.fallback)
	s.toCache(ctx, &merged)
	return &merged, nil
}

func (s *Service) Save(ctx context.Context, settings *model.ProviderSettings) error {
	if err := s.store.Save(ctx, settings); err != nil {
		return errors.Wrap(err, "save settings")
	}
	s.Invalidate(ctx)
	return nil
}

func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey); err != nil {
		logger.Warn("failed to invalidate settings cache", "error", err)
	}
}

func (s *Service) fromCache(ctx context.Context) (*model.ProviderSettings, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, redis.NilError) {
			logger.Warn("settings cache read failed", "error", err)
		}
		return nil, false
	}
	var cached model.ProviderSettings
	if err := json.Unmarshal(raw, &cached); err != nil {
		logger.Warn("dropping undecodable settings cache entry", "error", err)
		return nil, false
	}
	return &cached, true
}

func (s *Service) toCache(ctx context.Context, settings *model.ProviderSettings) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, raw, s.ttl); err != nil {
		logger.Warn("settings cache write failed", "error", err)
	}
}
