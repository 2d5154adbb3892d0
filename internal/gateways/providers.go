package gateway

import (
	"strings"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/pkg/errors"
)

// ProvidersConfig describes both upstreams. Base URL lists are comma separated.
type ProvidersConfig struct {
	DigiflazzBaseURLs   string
	DigiflazzTesting    bool
	TokoVoucherBaseURLs string
	Timeout             time.Duration
	MaxRetries          int
	MaxConns            int
	CircuitThreshold    int32
	CircuitCooldown     time.Duration
}

// NewProviderRegistry builds one endpoint pool and adapter per upstream. A
// nil doer gives each pool its own fasthttp client.
func NewProviderRegistry(cfg ProvidersConfig, doer Doer, creds CredentialSource) (*Registry, error) {
	pool := func(p model.Provider, urls string) (*Pool, error) {
		return NewPool(PoolConfig{
			Provider:                string(p),
			BaseURLs:                SplitBaseURLs(urls),
			Timeout:                 cfg.Timeout,
			MaxRetries:              cfg.MaxRetries,
			MaxConns:                cfg.MaxConns,
			CircuitBreakerThreshold: cfg.CircuitThreshold,
			CircuitBreakerCooldown:  cfg.CircuitCooldown,
		}, doer)
	}

	digiflazz, err := pool(model.ProviderVoucherA, cfg.DigiflazzBaseURLs)
	if err != nil {
		return nil, errors.Wrap(err, "digiflazz pool")
	}
	tokovoucher, err := pool(model.ProviderVoucherB, cfg.TokoVoucherBaseURLs)
	if err != nil {
		return nil, errors.Wrap(err, "tokovoucher pool")
	}

	return NewRegistry(
		NewDigiflazzAdapter(digiflazz, creds, cfg.DigiflazzTesting),
		NewTokoVoucherAdapter(tokovoucher, creds),
	), nil
}

func SplitBaseURLs(list string) []string {
	var out []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			out = append(out, u)
		}
	}
	return out
}
