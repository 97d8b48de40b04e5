// Package wallet defines the wallet capability the swap engine drives, a
// go-ethereum backed implementation of it, and the connected-session state.
package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Azurepeal/neighbor-swap/internal/types"
)

var (
	// ErrNotConnected is returned when an operation needs a live connection
	ErrNotConnected = errors.New("wallet not connected")

	// ErrUnknownChain is returned when the wallet sits on a chain outside the catalog
	ErrUnknownChain = errors.New("wallet is on an unsupported chain")

	// ErrUnsupportedKind is returned by a Factory for kinds it cannot build
	ErrUnsupportedKind = errors.New("unsupported wallet kind")
)

// Kind names a wallet implementation; it is what gets persisted between runs
type Kind string

// KindKeystore signs locally with a private key
const KindKeystore Kind = "keystore"

// Account is the result of a successful connect
type Account struct {
	Kind    Kind
	Address common.Address
}

// TxParams is a transaction as handed to a wallet. Gas zero lets the wallet estimate.
type TxParams struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Capability is what the engine needs from a wallet
type Capability interface {
	// CurrentChain resolves the chain the wallet is connected to
	CurrentChain(ctx context.Context) (types.SupportedChain, error)

	// Connect requests the account; it fails closed with an error
	Connect(ctx context.Context) (*Account, error)

	// SwitchChain moves the wallet to chain and reports success
	SwitchChain(ctx context.Context, chain types.ChainConfig) bool

	// Balance reads the native balance of owner
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)

	// SendTransaction signs and broadcasts tx, returning its hash
	SendTransaction(ctx context.Context, tx TxParams) (common.Hash, error)
}

// ChainReader covers the chain reads the swap orchestrator performs
type ChainReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// Factory builds a capability for a wallet kind
type Factory func(kind Kind) (Capability, error)
