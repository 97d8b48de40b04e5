// Package types contains shared type definitions used across multiple packages
package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Azurepeal/neighbor-swap/internal/model"
)

// SupportedChain represents a blockchain network the engine can swap on
type SupportedChain string

// Supported blockchain networks
const (
	ChainAurora SupportedChain = "aurora"
)

// NativeCurrency describes a chain's base currency as wallets expect it
type NativeCurrency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
}

// ChainConfig holds configuration for a specific blockchain network
type ChainConfig struct {
	Name      SupportedChain `yaml:"name" json:"name"`
	ChainID   int64          `yaml:"chain_id" json:"chain_id"`
	ChainName string         `yaml:"chain_name" json:"chain_name"`
	RPCURLs   []string       `yaml:"rpc_urls" json:"rpc_urls"`

	// APIEndpoint is the routing and price API base for this chain
	APIEndpoint string `yaml:"api_endpoint" json:"api_endpoint"`

	// ExplorerTxURL is a format string with a single %s for the tx hash
	ExplorerTxURL string `yaml:"explorer_tx_url" json:"explorer_tx_url"`

	NativeToken         string         `yaml:"native_token" json:"native_token"`
	WrappedNativeToken  string         `yaml:"wrapped_native_token" json:"wrapped_native_token"`
	RouteProxyAddress   string         `yaml:"route_proxy_address" json:"route_proxy_address"`
	ApproveProxyAddress string         `yaml:"approve_proxy_address" json:"approve_proxy_address"`
	NativeCurrency      NativeCurrency `yaml:"native_currency" json:"native_currency"`

	Tokens []model.Token `yaml:"tokens" json:"tokens"`
}

// HexChainID returns the chain id in the 0x-prefixed form wallets use
func (c ChainConfig) HexChainID() string {
	return "0x" + big.NewInt(c.ChainID).Text(16)
}

// BlockExplorerURL builds the explorer link for a transaction hash
func (c ChainConfig) BlockExplorerURL(txHash string) string {
	if c.ExplorerTxURL == "" {
		return ""
	}
	return fmt.Sprintf(c.ExplorerTxURL, txHash)
}

// PrimaryRPC returns the first configured RPC URL, or "" when none is set
func (c ChainConfig) PrimaryRPC() string {
	if len(c.RPCURLs) == 0 {
		return ""
	}
	return c.RPCURLs[0]
}

// Token looks up a catalog token by address
func (c ChainConfig) Token(address string) (model.Token, bool) {
	for _, t := range c.Tokens {
		if model.SameAddress(t.Address, address) {
			return t, true
		}
	}
	return model.Token{}, false
}

// TokenBySymbol looks up a catalog token by symbol, case-insensitively
func (c ChainConfig) TokenBySymbol(symbol string) (model.Token, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return model.Token{}, false
}

// Lookup finds a catalog token by address, falling back to symbol
func (c ChainConfig) Lookup(ref string) (model.Token, bool) {
	if t, ok := c.Token(ref); ok {
		return t, true
	}
	return c.TokenBySymbol(ref)
}

// IsNative reports whether address is this chain's native sentinel
func (c ChainConfig) IsNative(address string) bool {
	return model.SameAddress(address, c.NativeToken)
}

// IsWrappedNative reports whether address is this chain's wrapped-native contract
func (c ChainConfig) IsWrappedNative(address string) bool {
	return model.SameAddress(address, c.WrappedNativeToken)
}

// ClassifyIntent decides which transaction path a token pair needs.
// Native to wrapped-native and back never go through the router.
func (c ChainConfig) ClassifyIntent(tokenIn, tokenOut string) model.SwapIntent {
	switch {
	case c.IsNative(tokenIn) && c.IsWrappedNative(tokenOut):
		return model.IntentWrap
	case c.IsWrappedNative(tokenIn) && c.IsNative(tokenOut):
		return model.IntentUnwrap
	default:
		return model.IntentGenericSwap
	}
}
