package quote

import (
	"math/big"

	"github.com/Azurepeal/neighbor-swap/internal/model"
)

// EnabledInput is the snapshot the enabled gate is evaluated over
type EnabledInput struct {
	TokenIn  string
	TokenOut string
	Trader   string
	Amount   *big.Int
	Intent   model.SwapIntent
}

// Enabled reports whether a quote may be requested. Wrap and unwrap
// pairs never reach the routing API.
func Enabled(in EnabledInput) bool {
	if in.TokenIn == "" || in.TokenOut == "" || model.SameAddress(in.TokenIn, in.TokenOut) {
		return false
	}
	if in.Trader == "" {
		return false
	}
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		return false
	}
	return in.Intent.NeedsQuote()
}
