// Package model defines the core data structures for the swap engine.
package model

import (
	"strings"
)

// NativeTokenAddress is the sentinel address used for a chain's base currency.
const NativeTokenAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// Token is a single entry of a chain's static token catalog.
type Token struct {
	// Address is the ERC-20 contract address, or NativeTokenAddress
	Address string `json:"address" yaml:"address"`

	Name   string `json:"name" yaml:"name"`
	Symbol string `json:"symbol" yaml:"symbol"`

	// Decimals is the token's fixed-point scaling factor
	Decimals int32 `json:"decimals" yaml:"decimals"`

	LogoURI string `json:"logoURI,omitempty" yaml:"logoURI,omitempty"`
}

// IsNative reports whether the token represents the chain's base currency.
func (t Token) IsNative() bool {
	return SameAddress(t.Address, NativeTokenAddress)
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// QuoteRequest is the options object posted to the routing API.
// Amount is the integer amount-in encoded as a decimal string.
type QuoteRequest struct {
	TokenInAddr  string `json:"tokenInAddr"`
	TokenOutAddr string `json:"tokenOutAddr"`
	From         string `json:"from"`
	Amount       string `json:"amount"`
	SlippageBps  int    `json:"slippageBps"`
	MaxEdge      int    `json:"maxEdge"`
	MaxSplit     int    `json:"maxSplit"`
	WithCycle    bool   `json:"withCycle"`
}

// TxPayload is a ready-to-send transaction prepared by the routing API.
type TxPayload struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gasLimit,omitempty"`
}

// Route is one leg of an aggregated route.
type Route struct {
	Dex     string   `json:"dex"`
	Percent float64  `json:"percent"`
	Path    []string `json:"path"`
}

// DexAggregate summarises the best aggregated route.
type DexAggregate struct {
	ExpectedAmountOut string  `json:"expectedAmountOut"`
	Routes            []Route `json:"routes,omitempty"`
}

// SingleDex is the quote a single DEX would give on its own.
type SingleDex struct {
	Dex               string `json:"dexId"`
	ExpectedAmountOut string `json:"expectedAmountOut"`
}

// QuoteResult is the routing API response with the envelope fields removed.
// A nil MetamaskSwapTransaction means the quote is informational only.
type QuoteResult struct {
	DexAgg                  DexAggregate `json:"dexAgg"`
	SingleDexes             []SingleDex  `json:"singleDexes,omitempty"`
	MetamaskSwapTransaction *TxPayload   `json:"metamaskSwapTransaction,omitempty"`
}

// HasPayload reports whether the quote carries a sendable transaction.
func (q *QuoteResult) HasPayload() bool {
	return q != nil && q.MetamaskSwapTransaction != nil
}

// APIError is the error object embedded in routing API envelopes.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// TokenPrice is one entry of the price list endpoint.
type TokenPrice struct {
	TokenAddress string  `json:"tokenAddress"`
	Amount       string  `json:"amount"`
	PriceUsdc    float64 `json:"priceUsdc"`
}

// EndpointRequest pairs a quote request with the endpoint metadata it was issued against.
type EndpointRequest struct {
	Chain      string `json:"chain"`
	Endpoint   string `json:"endpoint"`
	From       string `json:"from"`
	To         string `json:"to"`
	FromSymbol string `json:"fromSymbol"`
	ToSymbol   string `json:"toSymbol"`
	ToDecimals int32  `json:"toDecimals"`
	Amount     string `json:"amount"`
}

// EndpointQuote is a fan-out result re-paired with its originating request.
type EndpointQuote struct {
	EndpointRequest
	Result *QuoteResult `json:"result"`
}

// SwapIntent classifies a token pair into the transaction path it needs.
type SwapIntent int

const (
	// IntentGenericSwap routes through the aggregator
	IntentGenericSwap SwapIntent = iota
	// IntentWrap deposits native currency into the wrapped-native contract
	IntentWrap
	// IntentUnwrap withdraws native currency from the wrapped-native contract
	IntentUnwrap
)

// String returns the string representation of the intent
func (i SwapIntent) String() string {
	switch i {
	case IntentWrap:
		return "wrap"
	case IntentUnwrap:
		return "unwrap"
	default:
		return "swap"
	}
}

// NeedsQuote reports whether the intent is served by the routing API.
func (i SwapIntent) NeedsQuote() bool {
	return i == IntentGenericSwap
}
