package service

import (
	"sort"
	"strings"

	"chargepay/backend/services/payments-service/internal/apperr"
)

// Payment provider keys.
const (
	ProviderStripe      = "stripe"
	ProviderCoinbaseCDP = "coinbase_cdp"
)

// Providers maps provider keys to the balance oracle each one prechecks with.
type Providers struct {
	oracles map[string]BalanceOracle
}

// NewProviders returns an empty registry.
func NewProviders() *Providers {
	return &Providers{oracles: make(map[string]BalanceOracle)}
}

// Register binds key to oracle. Registration happens at startup only.
func (p *Providers) Register(key string, oracle BalanceOracle) *Providers {
	p.oracles[strings.ToLower(key)] = oracle
	return p
}

// Oracle returns the oracle for key or an InvalidArgument error.
func (p *Providers) Oracle(key string) (BalanceOracle, error) {
	oracle, ok := p.oracles[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, apperr.InvalidArgument("Unsupported payment provider: %s", key)
	}
	return oracle, nil
}

// Keys lists registered provider keys, sorted.
func (p *Providers) Keys() []string {
	keys := make([]string, 0, len(p.oracles))
	for k := range p.oracles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
