package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/payments-service/internal/chain"
)

// SolanaClient is the subset of rpc.Client used for balance reads.
type SolanaClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// SolanaOracle reads SOL and SPL USDC balances.
type SolanaOracle struct {
	client SolanaClient
	logger *zap.Logger
}

// NewSolanaOracle wraps client.
func NewSolanaOracle(client SolanaClient, logger *zap.Logger) *SolanaOracle {
	return &SolanaOracle{client: client, logger: logger}
}

// NewSolanaRPC returns an RPC client for endpoint, defaulting to mainnet-beta.
func NewSolanaRPC(endpoint string) *rpc.Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = rpc.MainNetBeta_RPC
	}
	return rpc.New(endpoint)
}

// GetBalances reads the lamport balance of owner and the USDC balance of its associated token account.
// A missing token account counts as a zero USDC balance.
func (o *SolanaOracle) GetBalances(ctx context.Context, address string, network chain.Network) (Balances, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return Balances{}, transportError(err, network, "owner key")
	}
	mint, err := solana.PublicKeyFromBase58(network.USDCAddress)
	if err != nil {
		return Balances{}, transportError(err, network, "mint key")
	}

	native, err := o.client.GetBalance(ctx, owner, rpc.CommitmentFinalized)
	if err != nil {
		return Balances{}, transportError(err, network, "native balance")
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return Balances{}, transportError(fmt.Errorf("derive token account: %w", err), network, "USDC balance")
	}

	stable := decimal.Zero
	tokenBalance, err := o.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentFinalized)
	switch {
	case err != nil && isMissingAccount(err):
	case err != nil:
		return Balances{}, transportError(err, network, "USDC balance")
	case tokenBalance != nil && tokenBalance.Value != nil:
		units, ok := new(big.Int).SetString(tokenBalance.Value.Amount, 10)
		if !ok {
			return Balances{}, transportError(fmt.Errorf("malformed token amount %q", tokenBalance.Value.Amount), network, "USDC balance")
		}
		stable = decimal.NewFromBigInt(units, -int32(tokenBalance.Value.Decimals))
	}

	var lamports uint64
	if native != nil {
		lamports = native.Value
	}
	balances := Balances{
		Stable: stable,
		Native: decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -network.NativeDecimals),
	}
	if o.logger != nil {
		o.logger.Debug("solana balances fetched",
			zap.String("wallet_address", address),
			zap.String("usdc", balances.Stable.String()),
			zap.String("native", balances.Native.String()),
		)
	}
	return balances, nil
}

func isMissingAccount(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "could not find account")
}
