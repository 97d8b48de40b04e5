// Package state holds the swap screen's application state: a single
// authoritative store updated through reducers, plus the pure selectors
// derived from it.
package state

import (
	"github.com/shopspring/decimal"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

// Mode is the page mode
type Mode int

const (
	// ModeSwap is a plain swap
	ModeSwap Mode = iota
	// ModeFlash routes with cycles enabled
	ModeFlash
)

// String returns the string representation of the mode
func (m Mode) String() string {
	if m == ModeFlash {
		return "flash"
	}
	return "swap"
}

// ParseMode maps "swap" or "flash" to a Mode
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "swap":
		return ModeSwap, true
	case "flash":
		return ModeFlash, true
	default:
		return ModeSwap, false
	}
}

// Currency is a display target currency
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyKRW Currency = "krw"
)

// Valid reports whether c is a supported target currency
func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyKRW
}

// Defaults for the routing options that are not user editable
const (
	DefaultSlippageBps = 100
	DefaultMaxEdge     = 4
	DefaultMaxSplit    = 1
)

// State is a snapshot of the swap screen
type State struct {
	Chain types.ChainConfig

	TokenIn  model.Token
	TokenOut model.Token

	// AmountInput is the raw edit buffer
	AmountInput string
	// Amount is the debounced value that drives quoting
	Amount string

	SlippageBps int
	MaxEdge     int
	MaxSplit    int
	Mode        Mode

	Trader   string
	Busy     bool
	Currency Currency

	// BalanceKey changes whenever displayed balances must be re-read
	BalanceKey int
}

// New returns the initial state for chain. The pair starts on the first
// two catalog tokens when the catalog has them.
func New(chain types.ChainConfig) State {
	s := State{
		SlippageBps: DefaultSlippageBps,
		MaxEdge:     DefaultMaxEdge,
		MaxSplit:    DefaultMaxSplit,
		Currency:    CurrencyUSD,
	}
	return Reduce(s, SetChain{Config: chain})
}

// Action is a state transition
type Action interface {
	isAction()
}

// SetChain activates a chain. Selecting a different chain resets the pair.
type SetChain struct{ Config types.ChainConfig }

// SelectTokenIn picks the input token. Picking the current output token reverses the pair.
type SelectTokenIn struct{ Token model.Token }

// SelectTokenOut picks the output token. Picking the current input token reverses the pair.
type SelectTokenOut struct{ Token model.Token }

// Reverse swaps the pair and resets the amount
type Reverse struct{}

// EditAmount applies a raw keystroke buffer
type EditAmount struct{ Raw string }

// CommitAmount publishes the debounced amount
type CommitAmount struct{ Amount string }

// SettleAmount commits a debounced buffer. It is dropped when the buffer
// has changed since, e.g. by a reverse.
type SettleAmount struct{ Amount string }

// SetSlippagePercent sets slippage as a percentage; bps = percent × 100
type SetSlippagePercent struct{ Percent decimal.Decimal }

// SetMode switches between swap and flash
type SetMode struct{ Mode Mode }

// SetTrader records the connected address, or clears it with ""
type SetTrader struct{ Address string }

// SetBusy mirrors the orchestrator's busy flag
type SetBusy struct{ Busy bool }

// BumpBalanceKey forces balances to be re-read
type BumpBalanceKey struct{}

// SetCurrency changes the display currency
type SetCurrency struct{ Currency Currency }

func (SetChain) isAction()           {}
func (SelectTokenIn) isAction()      {}
func (SelectTokenOut) isAction()     {}
func (Reverse) isAction()            {}
func (EditAmount) isAction()         {}
func (CommitAmount) isAction()       {}
func (SettleAmount) isAction()       {}
func (SetSlippagePercent) isAction() {}
func (SetMode) isAction()            {}
func (SetTrader) isAction()          {}
func (SetBusy) isAction()            {}
func (BumpBalanceKey) isAction()     {}
func (SetCurrency) isAction()        {}

// reversedAmount is what the amount resets to on reverse
const reversedAmount = "0"

// Reduce applies a to s and returns the new state
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SetChain:
		changed := a.Config.Name != s.Chain.Name
		s.Chain = a.Config
		if changed || s.TokenIn.Address == "" {
			if len(a.Config.Tokens) > 1 {
				s.TokenIn = a.Config.Tokens[0]
				s.TokenOut = a.Config.Tokens[1]
			} else {
				s.TokenIn = model.Token{}
				s.TokenOut = model.Token{}
			}
		}

	case SelectTokenIn:
		if model.SameAddress(a.Token.Address, s.TokenOut.Address) {
			return reverse(s)
		}
		s.TokenIn = a.Token

	case SelectTokenOut:
		if model.SameAddress(a.Token.Address, s.TokenIn.Address) {
			return reverse(s)
		}
		s.TokenOut = a.Token

	case Reverse:
		return reverse(s)

	case EditAmount:
		s.AmountInput = amount.ApplyEdit(s.AmountInput, a.Raw)

	case CommitAmount:
		s.Amount = a.Amount

	case SettleAmount:
		if a.Amount == s.AmountInput {
			s.Amount = a.Amount
		}

	case SetSlippagePercent:
		if a.Percent.IsNegative() {
			return s
		}
		s.SlippageBps = int(a.Percent.Mul(decimal.NewFromInt(100)).IntPart())

	case SetMode:
		s.Mode = a.Mode

	case SetTrader:
		s.Trader = a.Address

	case SetBusy:
		s.Busy = a.Busy

	case BumpBalanceKey:
		s.BalanceKey++

	case SetCurrency:
		if a.Currency.Valid() {
			s.Currency = a.Currency
		}
	}
	return s
}

func reverse(s State) State {
	s.TokenIn, s.TokenOut = s.TokenOut, s.TokenIn
	s.AmountInput = reversedAmount
	s.Amount = reversedAmount
	return s
}
