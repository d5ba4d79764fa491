package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargepay/backend/services/payments-service/internal/apperr"
)

const evmWallet = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
const solWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

type fakeEVM struct {
	native   *big.Int
	token    []byte
	err      error
	lastCall ethereum.CallMsg
}

func (f *fakeEVM) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.native, nil
}

func (f *fakeEVM) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastCall = msg
	return f.token, nil
}

type fakeSolana struct {
	lamports uint64
	token    *rpc.GetTokenAccountBalanceResult
	tokenErr error
}

func (f *fakeSolana) GetBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: f.lamports}, nil
}

func (f *fakeSolana) GetTokenAccountBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	return f.token, f.tokenErr
}

func TestEVMBalances(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	client := &fakeEVM{
		native: wei,
		token:  common.LeftPadBytes(big.NewInt(12_500_000).Bytes(), 32),
	}
	router := NewRouter(NewEVMOracle(map[string]EVMClient{"base": client}, nil), nil)

	balances, err := router.GetBalances(context.Background(), evmWallet, "base")
	require.NoError(t, err)
	assert.True(t, balances.Stable.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, balances.Native.Equal(decimal.RequireFromString("1.5")))

	require.NotNil(t, client.lastCall.To)
	assert.Equal(t, common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), *client.lastCall.To)
	assert.Equal(t, []byte{0x70, 0xa0, 0x82, 0x31}, client.lastCall.Data[:4])
	assert.Len(t, client.lastCall.Data, 36)
}

func TestEVMTransportError(t *testing.T) {
	client := &fakeEVM{err: errors.New("connection refused")}
	router := NewRouter(NewEVMOracle(map[string]EVMClient{"ethereum": client}, nil), nil)

	_, err := router.GetBalances(context.Background(), evmWallet, "ethereum")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransport)
}

func TestRouterRejectsBadInput(t *testing.T) {
	router := NewRouter(NewEVMOracle(map[string]EVMClient{}, nil), nil)

	_, err := router.GetBalances(context.Background(), "0x123", "base")
	assert.ErrorIs(t, err, apperr.ErrAddressInvalid)

	_, err = router.GetBalances(context.Background(), evmWallet, "dogecoin")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = router.GetBalances(context.Background(), evmWallet, "polygon")
	assert.ErrorIs(t, err, apperr.ErrTransport)

	_, err = router.GetBalances(context.Background(), solWallet, "solana")
	assert.ErrorIs(t, err, apperr.ErrTransport)
}

func TestSolanaBalances(t *testing.T) {
	client := &fakeSolana{
		lamports: 2_000_000_000,
		token: &rpc.GetTokenAccountBalanceResult{
			Value: &rpc.UiTokenAmount{Amount: "5000000", Decimals: 6},
		},
	}
	router := NewRouter(nil, NewSolanaOracle(client, nil))

	balances, err := router.GetBalances(context.Background(), solWallet, "solana")
	require.NoError(t, err)
	assert.True(t, balances.Stable.Equal(decimal.NewFromInt(5)))
	assert.True(t, balances.Native.Equal(decimal.NewFromInt(2)))
}

func TestSolanaMissingTokenAccountIsZero(t *testing.T) {
	client := &fakeSolana{
		lamports: 1_000_000,
		tokenErr: errors.New("Invalid param: could not find account"),
	}
	router := NewRouter(nil, NewSolanaOracle(client, nil))

	balances, err := router.GetBalances(context.Background(), solWallet, "solana")
	require.NoError(t, err)
	assert.True(t, balances.Stable.IsZero())
	assert.True(t, balances.Native.Equal(decimal.RequireFromString("0.001")))
}

func TestSolanaTokenErrorIsTransport(t *testing.T) {
	client := &fakeSolana{tokenErr: errors.New("429 Too Many Requests")}
	router := NewRouter(nil, NewSolanaOracle(client, nil))

	_, err := router.GetBalances(context.Background(), solWallet, "solana")
	assert.ErrorIs(t, err, apperr.ErrTransport)
}
