package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
	"github.com/pkg/errors"
)

var (
	ErrLeaseHeld          = errors.New("transaction is already being reconciled")
	ErrLeaseAcquireFailed = errors.New("failed to acquire reconcile lease")
)

type LeaseConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

func DefaultLeaseConfig() LeaseConfig {
	return LeaseConfig{
		TTL:       45 * time.Second,
		KeyPrefix: "reconcile:lease:",
	}
}

// Lease marks one transaction as having an attempt in flight. The token makes
// sure a holder whose lease expired cannot release a newer one.
type Lease struct {
	TransactionID string
	AcquiredAt    time.Time
	token         []byte
	released      bool
}

// LeaseService guards reconciliation attempts with Redis SETNX keys that
// expire on their own if a worker dies mid-attempt.
type LeaseService struct {
	redis  redis.RedisAdapter
	config LeaseConfig
}

func NewLeaseService(redisAdapter redis.RedisAdapter, config LeaseConfig) *LeaseService {
	if config.TTL <= 0 {
		config.TTL = DefaultLeaseConfig().TTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultLeaseConfig().KeyPrefix
	}
	return &LeaseService{redis: redisAdapter, config: config}
}

func (s *LeaseService) key(id string) string {
	return s.config.KeyPrefix + id
}

func (s *LeaseService) Acquire(ctx context.Context, id string) (*Lease, error) {
	token := []byte(uuid.NewString())
	acquired, err := s.redis.SetNX(ctx, s.key(id), token, s.config.TTL)
	if err != nil {
		logger.Error("failed to acquire reconcile lease", "ref_id", id, "error", err)
		return nil, errors.Wrap(ErrLeaseAcquireFailed, err.Error())
	}
	if !acquired {
		return nil, ErrLeaseHeld
	}
	logger.Debug("reconcile lease acquired", "ref_id", id, "ttl", s.config.TTL)
	return &Lease{TransactionID: id, AcquiredAt: time.Now(), token: token}, nil
}

// Release drops the lease if it is still ours. Calling it twice is harmless.
func (s *LeaseService) Release(ctx context.Context, lease *Lease) error {
	if lease == nil || lease.released {
		return nil
	}
	lease.released = true

	deleted, err := s.redis.DelIfValue(ctx, s.key(lease.TransactionID), lease.token)
	if err != nil {
		logger.Warn("failed to release reconcile lease", "ref_id", lease.TransactionID, "error", err)
		return err
	}
	if !deleted {
		logger.Warn("reconcile lease expired before release", "ref_id", lease.TransactionID, "held_for", time.Since(lease.AcquiredAt))
	}
	return nil
}

func (s *LeaseService) IsHeld(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Exist(ctx, s.key(id))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
