package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

// State is the connected-wallet record. The zero value means disconnected.
type State struct {
	Kind          Kind
	RequestedKind Kind
	Address       common.Address
	Capability    Capability
}

// Connected reports whether a wallet is attached
func (s State) Connected() bool {
	return s.Capability != nil && s.Address != (common.Address{})
}

// ActionType enumerates session transitions
type ActionType int

const (
	ActionConnect ActionType = iota
	ActionConnectSuccess
	ActionConnectFailed
	ActionDisconnect
)

// Action is a session transition with its payload
type Action struct {
	Type       ActionType
	Kind       Kind
	Address    common.Address
	Capability Capability
}

// Reduce applies an action to the session state
func Reduce(s State, a Action) State {
	switch a.Type {
	case ActionConnect:
		return State{Kind: s.Kind, Address: s.Address, Capability: s.Capability, RequestedKind: a.Kind}
	case ActionConnectSuccess:
		return State{Kind: a.Kind, Address: a.Address, Capability: a.Capability}
	case ActionConnectFailed, ActionDisconnect:
		return State{}
	default:
		return s
	}
}

// Session owns the connected wallet, persists the last kind and reports
// the wallet's chain to the caller
type Session struct {
	factory Factory
	prefs   config.Preferences

	mu    sync.RWMutex
	state State

	onChain     func(types.SupportedChain)
	onConnected func(Account)

	log *logrus.Entry
}

// NewSession creates a disconnected session
func NewSession(factory Factory, prefs config.Preferences) *Session {
	if prefs == nil {
		prefs = config.NewMemoryPreferences()
	}
	return &Session{
		factory: factory,
		prefs:   prefs,
		log:     logrus.WithField("component", "wallet-session"),
	}
}

// WithChainObserver registers fn to receive the wallet's current chain after a connect
func (s *Session) WithChainObserver(fn func(types.SupportedChain)) *Session {
	s.onChain = fn
	return s
}

// WithConnectObserver registers fn to run after every successful connect
func (s *Session) WithConnectObserver(fn func(Account)) *Session {
	s.onConnected = fn
	return s
}

func (s *Session) dispatch(a Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, a)
	return s.state
}

// State returns a snapshot of the session
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connect builds a capability for kind and requests its account. On
// failure the session is cleared and the persisted kind dropped.
func (s *Session) Connect(ctx context.Context, kind Kind) (*Account, error) {
	s.dispatch(Action{Type: ActionConnect, Kind: kind})

	account, capability, err := s.connect(ctx, kind)
	if err != nil {
		s.dispatch(Action{Type: ActionConnectFailed})
		if derr := s.prefs.Delete(config.PrefLastWalletKind); derr != nil {
			s.log.WithError(derr).Warn("Failed to clear persisted wallet kind")
		}
		s.log.WithError(err).WithField("kind", kind).Warn("Wallet connect failed")
		return nil, err
	}

	s.dispatch(Action{
		Type:       ActionConnectSuccess,
		Kind:       kind,
		Address:    account.Address,
		Capability: capability,
	})
	if err := s.prefs.Set(config.PrefLastWalletKind, string(kind)); err != nil {
		s.log.WithError(err).Warn("Failed to persist wallet kind")
	}

	s.log.WithFields(logrus.Fields{
		"kind":    kind,
		"address": account.Address.Hex(),
	}).Info("Wallet connected")

	if s.onChain != nil {
		chain, err := capability.CurrentChain(ctx)
		if err != nil {
			s.log.WithError(err).Debug("Wallet chain not in catalog")
		} else {
			s.onChain(chain)
		}
	}
	if s.onConnected != nil {
		s.onConnected(*account)
	}
	return account, nil
}

func (s *Session) connect(ctx context.Context, kind Kind) (*Account, Capability, error) {
	if s.factory == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	capability, err := s.factory(kind)
	if err != nil {
		return nil, nil, err
	}
	account, err := capability.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	if account == nil || account.Address == (common.Address{}) {
		return nil, nil, fmt.Errorf("wallet %s returned no account", kind)
	}
	account.Kind = kind
	return account, capability, nil
}

// Reconnect restores the last persisted wallet kind, if any. It returns
// nil, nil when nothing was persisted.
func (s *Session) Reconnect(ctx context.Context) (*Account, error) {
	kind, ok := s.prefs.Get(config.PrefLastWalletKind)
	if !ok || kind == "" {
		return nil, nil
	}
	return s.Connect(ctx, Kind(kind))
}

// Disconnect clears the session and the persisted kind
func (s *Session) Disconnect() {
	s.dispatch(Action{Type: ActionDisconnect})
	if err := s.prefs.Delete(config.PrefLastWalletKind); err != nil {
		s.log.WithError(err).Warn("Failed to clear persisted wallet kind")
	}
	s.log.Info("Wallet disconnected")
}

// Balance reads the connected account's native balance
func (s *Session) Balance(ctx context.Context) (*big.Int, error) {
	st := s.State()
	if !st.Connected() {
		return nil, ErrNotConnected
	}
	return st.Capability.Balance(ctx, st.Address)
}

// ReadTokenBalance reads owner's balance of token. Failures read as zero.
func ReadTokenBalance(ctx context.Context, reader ChainReader, token, owner common.Address) *big.Int {
	balance, err := reader.TokenBalance(ctx, token, owner)
	if err != nil || balance == nil {
		logrus.WithFields(logrus.Fields{
			"component": "wallet",
			"token":     token.Hex(),
			"owner":     owner.Hex(),
		}).WithError(err).Warn("Token balance unavailable, reading as zero")
		return new(big.Int)
	}
	return balance
}
