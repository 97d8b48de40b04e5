// Package swap runs a single swap execution: allowance check, optional
// approval, submission and confirmation.
package swap

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

var (
	// ErrBusy is returned when an execution is already in flight
	ErrBusy = errors.New("swap already in progress")

	// ErrNoQuotePayload is returned for a generic swap whose quote has no transaction
	ErrNoQuotePayload = errors.New("quote has no transaction payload")

	// ErrMissingTxHash is returned when the wallet reports no transaction hash
	ErrMissingTxHash = errors.New("wallet returned no transaction hash")

	// ErrApprovalFailed is returned when the allowance approval did not succeed
	ErrApprovalFailed = errors.New("token approval failed")

	// ErrSubmission wraps wallet and payload errors raised while submitting
	ErrSubmission = errors.New("swap submission failed")

	// ErrConfirmation is returned when no receipt arrived before the deadline
	ErrConfirmation = errors.New("transaction confirmation unavailable")

	// ErrWrongChain is returned when the wallet cannot be moved to the swap's chain
	ErrWrongChain = errors.New("wallet could not switch to the swap chain")
)

// Phase is a step of the execution state machine
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseApprovalCheck
	PhaseApproving
	PhaseSubmitting
	PhaseAwaitingConfirmation
	PhaseSettled
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseApprovalCheck:
		return "approval_check"
	case PhaseApproving:
		return "approving"
	case PhaseSubmitting:
		return "submitting"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Outcome is the on-chain result of an included transaction
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeReverted
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	if o == OutcomeReverted {
		return "reverted"
	}
	return "success"
}

// Request is everything one execution needs. Amount is in the input
// token's integer units.
type Request struct {
	Chain    types.ChainConfig
	TokenIn  model.Token
	TokenOut model.Token
	Amount   *big.Int
	Trader   common.Address
	Quote    *model.QuoteResult
}

// Intent classifies the request's pair
func (r Request) Intent() model.SwapIntent {
	return r.Chain.ClassifyIntent(r.TokenIn.Address, r.TokenOut.Address)
}

// Settlement describes an included transaction
type Settlement struct {
	ID          string
	Intent      model.SwapIntent
	TxHash      common.Hash
	ExplorerURL string
	Outcome     Outcome
	ApprovalTx  *common.Hash
	BlockNumber *big.Int
}

// Succeeded reports whether the transaction executed successfully
func (s *Settlement) Succeeded() bool {
	return s != nil && s.Outcome == OutcomeSuccess
}
