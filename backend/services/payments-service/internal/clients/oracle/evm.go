package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"chargepay/backend/services/payments-service/internal/chain"
)

var balanceOfSelector = methodSelector("balanceOf(address)")

// methodSelector returns the first four bytes of the Keccak-256 hash of an ABI signature.
func methodSelector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// EVMClient is the subset of ethclient.Client used for balance reads.
type EVMClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMOracle reads native and ERC-20 USDC balances from EVM networks.
type EVMOracle struct {
	clients map[string]EVMClient
	logger  *zap.Logger
}

// NewEVMOracle wraps per-network clients keyed by network name.
func NewEVMOracle(clients map[string]EVMClient, logger *zap.Logger) *EVMOracle {
	return &EVMOracle{clients: clients, logger: logger}
}

// DialEVM connects to every configured endpoint. The returned clients must be closed by the caller.
func DialEVM(ctx context.Context, endpoints map[string]string) (map[string]*ethclient.Client, error) {
	clients := make(map[string]*ethclient.Client, len(endpoints))
	for name, url := range endpoints {
		if url == "" {
			continue
		}
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("oracle: dial %s: %w", name, err)
		}
		clients[name] = client
	}
	return clients, nil
}

// GetBalances reads the native balance and USDC balanceOf for address.
func (o *EVMOracle) GetBalances(ctx context.Context, address string, network chain.Network) (Balances, error) {
	client, ok := o.clients[network.Name]
	if !ok {
		return Balances{}, transportError(fmt.Errorf("no client for %s", network.Name), network, "balance")
	}
	account := common.HexToAddress(address)

	nativeWei, err := client.BalanceAt(ctx, account, nil)
	if err != nil {
		return Balances{}, transportError(err, network, "native balance")
	}

	token := common.HexToAddress(network.USDCAddress)
	data := make([]byte, 0, len(balanceOfSelector)+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(account.Bytes(), 32)...)

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return Balances{}, transportError(err, network, "USDC balance")
	}
	if len(out) == 0 {
		return Balances{}, transportError(fmt.Errorf("empty balanceOf response from %s", network.USDCAddress), network, "USDC balance")
	}
	tokenUnits := new(big.Int).SetBytes(out)

	balances := Balances{
		Stable: decimal.NewFromBigInt(tokenUnits, -network.USDCDecimals),
		Native: decimal.NewFromBigInt(nativeWei, -network.NativeDecimals),
	}
	if o.logger != nil {
		o.logger.Debug("evm balances fetched",
			zap.String("chain", network.Name),
			zap.String("wallet_address", address),
			zap.String("usdc", balances.Stable.String()),
			zap.String("native", balances.Native.String()),
		)
	}
	return balances, nil
}
