package gateway

import (
	"context"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/pkg/errors"
)

var (
	// ErrNotConfigured means upstream credentials are missing. It is returned
	// before any network call and is never retried automatically.
	ErrNotConfigured        = errors.New("provider credentials are not configured")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrNoAvailableEndpoints = errors.New("no available provider endpoints")
)

// OutcomeStatus is the provider-neutral result vocabulary.
type OutcomeStatus string

const (
	OutcomeSukses  OutcomeStatus = "sukses"
	OutcomePending OutcomeStatus = "pending"
	OutcomeGagal   OutcomeStatus = "gagal"
	OutcomeError   OutcomeStatus = "error"
)

// Outcome is the normalized answer of a purchase or status call. Provider
// specific response shapes never leave this package.
type Outcome struct {
	IsSuccess             bool
	Status                OutcomeStatus
	Message               string
	SerialNumber          string
	ProviderTransactionID string
	Price                 int64
	ResponseCode          string
	Raw                   []byte
	Latency               time.Duration
}

func errorOutcome(format string, args ...any) *Outcome {
	return &Outcome{
		Status:  OutcomeError,
		Message: errors.Errorf(format, args...).Error(),
	}
}

type PurchaseRequest struct {
	RefID       string
	ProductCode string
	Destination string
	ServerID    string
}

// Adapter is the uniform purchase capability of an upstream. The same RefID
// is sent for the initial purchase and for every status re-check, which the
// upstream treats as its idempotency key.
//
// Purchase returns a non-nil error only for ErrNotConfigured. Transport,
// decode and non-2xx failures come back as an Outcome with Status OutcomeError.
type Adapter interface {
	Provider() model.Provider
	Purchase(ctx context.Context, req PurchaseRequest) (*Outcome, error)
}

// CredentialSource resolves provider settings at call time.
type CredentialSource interface {
	ProviderSettings(ctx context.Context) (*model.ProviderSettings, error)
}

// Registry maps a provider to the adapter that services it.
type Registry struct {
	adapters map[model.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Adapter(p model.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "%q", p)
	}
	return a, nil
}
