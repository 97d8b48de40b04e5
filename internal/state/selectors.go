package state

import (
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/quote"
)

// Intent classifies the selected pair
func Intent(s State) model.SwapIntent {
	return s.Chain.ClassifyIntent(s.TokenIn.Address, s.TokenOut.Address)
}

// ScaledAmount converts the debounced amount into the input token's integer units
func ScaledAmount(s State) *big.Int {
	if s.TokenIn.Address == "" {
		return new(big.Int)
	}
	return amount.ToScaledInteger(s.Amount, s.TokenIn.Decimals)
}

// QuoteRequest builds the routing request for the current selection
func QuoteRequest(s State) model.QuoteRequest {
	return model.QuoteRequest{
		TokenInAddr:  s.TokenIn.Address,
		TokenOutAddr: s.TokenOut.Address,
		From:         s.Trader,
		Amount:       ScaledAmount(s).String(),
		SlippageBps:  s.SlippageBps,
		MaxEdge:      s.MaxEdge,
		MaxSplit:     s.MaxSplit,
		WithCycle:    s.Mode == ModeFlash,
	}
}

// QuoteKey is the cache key for the current selection on the active chain
func QuoteKey(s State) quote.Key {
	return quote.NewKey(s.Chain.APIEndpoint, QuoteRequest(s))
}

// QuoteEnabled reports whether the current selection may be quoted
func QuoteEnabled(s State) bool {
	return quote.Enabled(quote.EnabledInput{
		TokenIn:  s.TokenIn.Address,
		TokenOut: s.TokenOut.Address,
		Trader:   s.Trader,
		Amount:   ScaledAmount(s),
		Intent:   Intent(s),
	})
}

// SwapEnabled reports whether the swap button is clickable. Without a
// wallet, or in flash mode, the button stays enabled because it leads to
// the connect or flash flow instead.
func SwapEnabled(s State, q *model.QuoteResult) bool {
	if s.Busy {
		return false
	}
	if s.Trader == "" || s.Mode == ModeFlash {
		return true
	}
	if Intent(s) != model.IntentGenericSwap {
		return true
	}
	return q.HasPayload()
}

// PersistPair stores the selected pair in prefs
func PersistPair(prefs config.Preferences, s State) {
	if s.TokenIn.Address == "" || s.TokenOut.Address == "" {
		return
	}
	log := logrus.WithField("component", "state-store")
	if err := prefs.Set(config.PrefSwapFromToken, s.TokenIn.Address); err != nil {
		log.WithError(err).Warn("Failed to persist input token")
	}
	if err := prefs.Set(config.PrefSwapToToken, s.TokenOut.Address); err != nil {
		log.WithError(err).Warn("Failed to persist output token")
	}
}

// RestorePair applies the persisted pair when both tokens are in the
// active catalog and distinct
func RestorePair(prefs config.Preferences, s State) State {
	in, okIn := prefs.Get(config.PrefSwapFromToken)
	out, okOut := prefs.Get(config.PrefSwapToToken)
	if !okIn || !okOut || model.SameAddress(in, out) {
		return s
	}
	tokenIn, okIn := s.Chain.Token(in)
	tokenOut, okOut := s.Chain.Token(out)
	if !okIn || !okOut {
		return s
	}
	s.TokenIn = tokenIn
	s.TokenOut = tokenOut
	return s
}
