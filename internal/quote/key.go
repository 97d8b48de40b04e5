// Package quote owns the client-side quote lifecycle: the canonical cache
// key, the enabled gate, input debouncing and the keyed query task.
package quote

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Azurepeal/neighbor-swap/internal/model"
)

// Key identifies a quote. Two keys are equal iff every field matches, so
// Key is usable directly as a map key.
type Key struct {
	Endpoint    string
	TokenIn     string
	TokenOut    string
	Trader      string
	Amount      string
	SlippageBps int
	MaxEdge     int
	MaxSplit    int
	WithCycle   bool
}

// NewKey canonicalises req against endpoint. Addresses are lower-cased and
// the amount is normalised to its integer form.
func NewKey(endpoint string, req model.QuoteRequest) Key {
	return Key{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		TokenIn:     strings.ToLower(req.TokenInAddr),
		TokenOut:    strings.ToLower(req.TokenOutAddr),
		Trader:      strings.ToLower(req.From),
		Amount:      canonicalAmount(req.Amount),
		SlippageBps: req.SlippageBps,
		MaxEdge:     req.MaxEdge,
		MaxSplit:    req.MaxSplit,
		WithCycle:   req.WithCycle,
	}
}

func canonicalAmount(raw string) string {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return raw
	}
	return v.String()
}

// Request rebuilds the wire request for the key
func (k Key) Request() model.QuoteRequest {
	return model.QuoteRequest{
		TokenInAddr:  k.TokenIn,
		TokenOutAddr: k.TokenOut,
		From:         k.Trader,
		Amount:       k.Amount,
		SlippageBps:  k.SlippageBps,
		MaxEdge:      k.MaxEdge,
		MaxSplit:     k.MaxSplit,
		WithCycle:    k.WithCycle,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d|%d|%t",
		k.Endpoint, k.TokenIn, k.TokenOut, k.Trader, k.Amount,
		k.SlippageBps, k.MaxEdge, k.MaxSplit, k.WithCycle)
}
