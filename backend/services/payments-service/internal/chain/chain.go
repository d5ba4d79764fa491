package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Family distinguishes the address and RPC model of a network.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// Network describes a supported chain and the USDC deployment on it.
type Network struct {
	Name           string
	Family         Family
	ChainID        int64
	NativeSymbol   string
	NativeDecimals int32
	USDCAddress    string
	USDCDecimals   int32
	// GasReserve is the native balance required on top of the token amount.
	GasReserve decimal.Decimal
	Testnet    bool
}

var networks = map[string]Network{
	"ethereum": {
		Name: "ethereum", Family: FamilyEVM, ChainID: 1,
		NativeSymbol: "ETH", NativeDecimals: 18,
		USDCAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", USDCDecimals: 6,
		GasReserve: decimal.RequireFromString("0.002"),
	},
	"polygon": {
		Name: "polygon", Family: FamilyEVM, ChainID: 137,
		NativeSymbol: "POL", NativeDecimals: 18,
		USDCAddress: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", USDCDecimals: 6,
		GasReserve: decimal.RequireFromString("0.05"),
	},
	"arbitrum": {
		Name: "arbitrum", Family: FamilyEVM, ChainID: 42161,
		NativeSymbol: "ETH", NativeDecimals: 18,
		USDCAddress: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", USDCDecimals: 6,
		GasReserve: decimal.RequireFromString("0.001"),
	},
	"base": {
		Name: "base", Family: FamilyEVM, ChainID: 8453,
		NativeSymbol: "ETH", NativeDecimals: 18,
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", USDCDecimals: 6,
		GasReserve: decimal.RequireFromString("0.001"),
	},
	"solana": {
		Name: "solana", Family: FamilySolana,
		NativeSymbol: "SOL", NativeDecimals: 9,
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", USDCDecimals: 6,
		GasReserve: decimal.RequireFromString("0.001"),
	},
	"ethereum-sepolia": {
		Name: "ethereum-sepolia", Family: FamilyEVM, ChainID: 11155111,
		NativeSymbol: "ETH", NativeDecimals: 18,
		USDCAddress: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", USDCDecimals: 6,
		GasReserve: decimal.Zero, Testnet: true,
	},
	"polygon-amoy": {
		Name: "polygon-amoy", Family: FamilyEVM, ChainID: 80002,
		NativeSymbol: "POL", NativeDecimals: 18,
		USDCAddress: "0x41e94eb019c0762f9bfcf9fb1e58725bfb0e7582", USDCDecimals: 6,
		GasReserve: decimal.RequireFromString("0.05"), Testnet: true,
	},
	"base-sepolia": {
		Name: "base-sepolia", Family: FamilyEVM, ChainID: 84532,
		NativeSymbol: "ETH", NativeDecimals: 18,
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", USDCDecimals: 6,
		GasReserve: decimal.RequireFromString("0.001"), Testnet: true,
	},
}

// Lookup returns the network registered under name (case-insensitive).
func Lookup(name string) (Network, bool) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	return n, ok
}

// Names returns every supported network name, sorted.
func Names() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAddress checks that address is well formed for the network family.
func (n Network) ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	switch n.Family {
	case FamilyEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("invalid %s address %q", n.Name, address)
		}
		return nil
	case FamilySolana:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid %s address %q: %w", n.Name, address, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported network family %q", n.Family)
	}
}
