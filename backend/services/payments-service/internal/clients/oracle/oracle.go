package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"chargepay/backend/services/payments-service/internal/apperr"
	"chargepay/backend/services/payments-service/internal/chain"
)

// Balances is a wallet's USDC and native token holdings on one network, in whole units.
type Balances struct {
	Stable decimal.Decimal
	Native decimal.Decimal
}

// Router dispatches balance lookups to the oracle serving the network family.
type Router struct {
	evm    *EVMOracle
	solana *SolanaOracle
}

// NewRouter builds a router. Either oracle may be nil when no endpoint is configured.
func NewRouter(evm *EVMOracle, solana *SolanaOracle) *Router {
	return &Router{evm: evm, solana: solana}
}

// GetBalances validates address for chainName and reads both balances.
// Failures are *apperr.Error of kind AddressInvalid, InvalidArgument or TransportError.
func (r *Router) GetBalances(ctx context.Context, address, chainName string) (Balances, error) {
	network, ok := chain.Lookup(chainName)
	if !ok {
		return Balances{}, apperr.InvalidArgument("Unsupported chain: %s", chainName)
	}
	if err := network.ValidateAddress(address); err != nil {
		return Balances{}, apperr.Wrap(apperr.KindAddressInvalid, err, "Invalid wallet address for %s", network.Name)
	}

	switch network.Family {
	case chain.FamilyEVM:
		if r.evm == nil {
			return Balances{}, apperr.New(apperr.KindTransport, "No RPC endpoint configured for %s", network.Name)
		}
		return r.evm.GetBalances(ctx, address, network)
	case chain.FamilySolana:
		if r.solana == nil {
			return Balances{}, apperr.New(apperr.KindTransport, "No RPC endpoint configured for %s", network.Name)
		}
		return r.solana.GetBalances(ctx, address, network)
	default:
		return Balances{}, apperr.InvalidArgument("Unsupported chain: %s", chainName)
	}
}

func transportError(err error, network chain.Network, what string) error {
	return apperr.Wrap(apperr.KindTransport, err, "%s lookup on %s failed", what, network.Name)
}
