// Package validation checks quote requests, routing results and transaction
// payloads before they reach the network or the wallet.
package validation

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/model"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid input")

// ValidationOptions holds configuration for the validation process
type ValidationOptions struct {
	// MaxSlippageBps rejects requests tolerating more than this slippage
	MaxSlippageBps int

	// MaxEdge and MaxSplit bound the route search the API is asked for
	MaxEdge  int
	MaxSplit int
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxSlippageBps: 5000, // 50%
		MaxEdge:        8,
		MaxSplit:       8,
	}
}

// ValidateQuoteRequest rejects requests the routing API would refuse or
// that could never produce a usable route
func ValidateQuoteRequest(req model.QuoteRequest, opts ValidationOptions) error {
	if !common.IsHexAddress(req.TokenInAddr) {
		return invalid("tokenInAddr %q is not an address", req.TokenInAddr)
	}
	if !common.IsHexAddress(req.TokenOutAddr) {
		return invalid("tokenOutAddr %q is not an address", req.TokenOutAddr)
	}
	if model.SameAddress(req.TokenInAddr, req.TokenOutAddr) {
		return invalid("tokenIn and tokenOut are the same token")
	}
	if req.From != "" && !common.IsHexAddress(req.From) {
		return invalid("from %q is not an address", req.From)
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return invalid("amount %q is not a non-negative integer", req.Amount)
	}

	if req.SlippageBps < 0 || req.SlippageBps > opts.MaxSlippageBps {
		return invalid("slippage %d bps outside [0, %d]", req.SlippageBps, opts.MaxSlippageBps)
	}
	if req.MaxEdge < 1 || req.MaxEdge > opts.MaxEdge {
		return invalid("maxEdge %d outside [1, %d]", req.MaxEdge, opts.MaxEdge)
	}
	if req.MaxSplit < 1 || req.MaxSplit > opts.MaxSplit {
		return invalid("maxSplit %d outside [1, %d]", req.MaxSplit, opts.MaxSplit)
	}

	return nil
}

// ValidateTxPayload checks a routing API transaction before it is handed to a wallet
func ValidateTxPayload(p *model.TxPayload) error {
	if p == nil {
		return invalid("missing transaction payload")
	}
	if !common.IsHexAddress(p.To) {
		return invalid("payload target %q is not an address", p.To)
	}
	if _, err := hexutil.Decode(p.Data); err != nil {
		return invalid("payload data is not hex: %v", err)
	}
	if _, err := ParseValue(p.Value); err != nil {
		return err
	}
	return nil
}

// ParseValue normalises a transaction value given as a decimal string,
// a 0x-prefixed hex string, or empty (zero)
func ParseValue(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(big.Int), nil
	}

	if hex, isHex := strings.CutPrefix(strings.ToLower(raw), "0x"); isHex {
		if hex == "" {
			return new(big.Int), nil
		}
		v, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			return nil, invalid("value %q is not hex", raw)
		}
		return v, nil
	}

	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, invalid("value %q is not a non-negative integer", raw)
	}
	return v, nil
}

// FilterQuotes drops fan-out results that carry no usable output amount
func FilterQuotes(quotes []model.EndpointQuote) []model.EndpointQuote {
	valid := make([]model.EndpointQuote, 0, len(quotes))
	for _, q := range quotes {
		if isUsableQuote(q) {
			valid = append(valid, q)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"chain":    q.Chain,
			"endpoint": q.Endpoint,
			"pair":     q.FromSymbol + "/" + q.ToSymbol,
		}).Debug("Filtered unusable quote")
	}
	return valid
}

func isUsableQuote(q model.EndpointQuote) bool {
	if q.Result == nil {
		return false
	}
	out, ok := new(big.Int).SetString(q.Result.DexAgg.ExpectedAmountOut, 10)
	return ok && out.Sign() > 0
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
