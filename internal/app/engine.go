// Package app wires the swap engine together: state store, debounced
// amount input, keyed quote query, price resolver, wallet session and the
// swap orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/aggregate"
	"github.com/Azurepeal/neighbor-swap/internal/amount"
	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/metrics"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/pricing"
	"github.com/Azurepeal/neighbor-swap/internal/quote"
	"github.com/Azurepeal/neighbor-swap/internal/state"
	"github.com/Azurepeal/neighbor-swap/internal/swap"
	"github.com/Azurepeal/neighbor-swap/internal/types"
	"github.com/Azurepeal/neighbor-swap/internal/validation"
	"github.com/Azurepeal/neighbor-swap/internal/wallet"
)

var (
	// ErrQuoteDisabled is returned when the current selection cannot be quoted
	ErrQuoteDisabled = errors.New("quote not available for the current selection")

	// ErrWalletUnsupported is returned when the connected wallet cannot read chain state
	ErrWalletUnsupported = errors.New("connected wallet cannot execute swaps")
)

// QuoteSource is the subset of fetch.QuoteClient the engine needs
type QuoteSource interface {
	FetchSingleQuote(ctx context.Context, endpoint string, req model.QuoteRequest) (*model.QuoteResult, error)
	FetchFanOutQuotes(ctx context.Context, params model.QuoteRequest, endpoints []model.EndpointRequest) ([]model.EndpointQuote, error)
}

// SettlementSink receives every swap that reached the chain
type SettlementSink interface {
	Add(chain types.SupportedChain, s *swap.Settlement)
}

// Options configures an Engine
type Options struct {
	Catalog     *config.Catalog
	Chain       types.SupportedChain
	Quotes      QuoteSource
	Prices      *pricing.Resolver
	Wallets     wallet.Factory
	Preferences config.Preferences
	Metrics     *metrics.Metrics
	Settlements SettlementSink

	Debounce       time.Duration
	QuoteTTL       time.Duration
	ReceiptTimeout time.Duration

	SlippageBps int
	MaxEdge     int
	MaxSplit    int
	Currency    string
}

// OptionsFromConfig fills the tunables of Options from cfg
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Chain:          types.SupportedChain(cfg.DefaultChain),
		Debounce:       cfg.QuoteDebounce,
		QuoteTTL:       cfg.QuoteCacheTTL,
		ReceiptTimeout: cfg.ReceiptTimeout,
		SlippageBps:    cfg.SlippageBps,
		MaxEdge:        cfg.MaxEdge,
		MaxSplit:       cfg.MaxSplit,
		Currency:       cfg.TargetCurrency,
	}
}

// Engine is one user's swap session
type Engine struct {
	catalog      *config.Catalog
	store        *state.Store
	query        *quote.Query
	debounce     *quote.Debouncer[string]
	quotes       QuoteSource
	prices       *pricing.Resolver
	session      *wallet.Session
	orchestrator *swap.Orchestrator
	prefs        config.Preferences
	settlements  SettlementSink

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	syncMu      sync.Mutex

	log *logrus.Entry
}

// New builds an engine on opts.Chain
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		opts.Catalog = config.DefaultCatalog()
	}
	if opts.Quotes == nil {
		return nil, errors.New("quote source is required")
	}
	if opts.Chain == "" {
		opts.Chain = opts.Catalog.DefaultChain
	}
	if opts.Preferences == nil {
		opts.Preferences = config.NewMemoryPreferences()
	}
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = 30 * time.Second
	}

	chain, err := opts.Catalog.Chain(opts.Chain)
	if err != nil {
		return nil, err
	}

	initial := state.New(chain)
	if opts.SlippageBps > 0 {
		initial.SlippageBps = opts.SlippageBps
	}
	if opts.MaxEdge > 0 {
		initial.MaxEdge = opts.MaxEdge
	}
	if opts.MaxSplit > 0 {
		initial.MaxSplit = opts.MaxSplit
	}
	initial = state.Reduce(initial, state.SetCurrency{Currency: state.Currency(opts.Currency)})
	initial = state.RestorePair(opts.Preferences, initial)

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		catalog:     opts.Catalog,
		store:       state.NewStore(initial),
		quotes:      opts.Quotes,
		prices:      opts.Prices,
		prefs:       opts.Preferences,
		settlements: opts.Settlements,
		ctx:         ctx,
		cancel:      cancel,
		log:         logrus.WithField("component", "engine"),
	}

	e.query = quote.NewQuery(e.fetchQuote, opts.QuoteTTL)
	e.debounce = quote.NewDebouncer(opts.Debounce, func(v string) {
		e.store.Dispatch(state.SettleAmount{Amount: v})
	})
	e.session = wallet.NewSession(opts.Wallets, opts.Preferences).
		WithChainObserver(e.onWalletChain).
		WithConnectObserver(e.onWalletConnected)
	e.orchestrator = swap.NewOrchestrator().
		WithReceiptTimeout(opts.ReceiptTimeout).
		WithMetrics(opts.Metrics).
		WithPhaseObserver(e.onPhase).
		WithInclusionHandler(e.onIncluded)

	e.unsubscribe = e.store.Subscribe(e.onStateChange)
	return e, nil
}

// Close stops background work
func (e *Engine) Close() {
	e.unsubscribe()
	e.debounce.Stop()
	e.query.Clear()
	e.cancel()
	e.query.Wait()
}

// Snapshot returns the current state
func (e *Engine) Snapshot() state.State {
	return e.store.Snapshot()
}

// Subscribe registers fn for state changes
func (e *Engine) Subscribe(fn func(prev, next state.State)) func() {
	return e.store.Subscribe(fn)
}

// Dispatch applies a state action
func (e *Engine) Dispatch(a state.Action) state.State {
	return e.store.Dispatch(a)
}

// Session returns the wallet session
func (e *Engine) Session() *wallet.Session {
	return e.session
}

// EditAmount applies a keystroke buffer; the quote follows after the debounce delay
func (e *Engine) EditAmount(raw string) {
	next := e.store.Dispatch(state.EditAmount{Raw: raw})
	e.debounce.Push(next.AmountInput)
}

// SetAmount applies and commits an amount immediately
func (e *Engine) SetAmount(raw string) {
	next := e.store.Dispatch(state.EditAmount{Raw: raw})
	e.debounce.Stop()
	e.store.Dispatch(state.SettleAmount{Amount: next.AmountInput})
}

// SelectPair picks both tokens by address or symbol on the active chain
func (e *Engine) SelectPair(in, out string) error {
	s := e.store.Snapshot()
	tokenIn, err := lookupToken(s.Chain, in)
	if err != nil {
		return err
	}
	tokenOut, err := lookupToken(s.Chain, out)
	if err != nil {
		return err
	}
	if model.SameAddress(tokenIn.Address, tokenOut.Address) {
		return fmt.Errorf("%w: input and output token are both %s", validation.ErrInvalid, tokenIn.Symbol)
	}
	e.store.Dispatch(state.SelectTokenIn{Token: tokenIn})
	e.store.Dispatch(state.SelectTokenOut{Token: tokenOut})
	return nil
}

func lookupToken(chain types.ChainConfig, ref string) (model.Token, error) {
	if t, ok := chain.Lookup(ref); ok {
		return t, nil
	}
	return model.Token{}, fmt.Errorf("%w: token %q is not listed on %s", validation.ErrInvalid, ref, chain.Name)
}

// SelectChain activates a catalog chain and moves a connected wallet onto it
func (e *Engine) SelectChain(ctx context.Context, name types.SupportedChain) error {
	chain, err := e.catalog.Chain(name)
	if err != nil {
		return err
	}
	e.store.Dispatch(state.SetChain{Config: chain})

	if ws := e.session.State(); ws.Connected() {
		if !ws.Capability.SwitchChain(ctx, chain) {
			e.log.WithField("chain", name).Warn("Wallet did not switch chain")
		}
	}
	return nil
}

func (e *Engine) fetchQuote(ctx context.Context, key quote.Key) (*model.QuoteResult, error) {
	return e.quotes.FetchSingleQuote(ctx, key.Endpoint, key.Request())
}

func (e *Engine) onStateChange(prev, next state.State) {
	if !model.SameAddress(prev.TokenIn.Address, next.TokenIn.Address) ||
		!model.SameAddress(prev.TokenOut.Address, next.TokenOut.Address) {
		state.PersistPair(e.prefs, next)
	}
	e.syncQuote()
}

// syncQuote points the query at the current key, or stops it when the
// selection cannot be quoted. The snapshot is read under syncMu so the
// last sync to run always sees the latest state.
func (e *Engine) syncQuote() {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	s := e.store.Snapshot()
	if state.QuoteEnabled(s) {
		e.query.Watch(e.ctx, state.QuoteKey(s))
		return
	}
	e.query.Clear()
}

// Quote returns the quote for the current selection, from cache when fresh
func (e *Engine) Quote(ctx context.Context) (quote.Result, error) {
	s := e.store.Snapshot()
	if !state.QuoteEnabled(s) {
		return quote.Result{}, ErrQuoteDisabled
	}
	key := state.QuoteKey(s)
	if err := validation.ValidateQuoteRequest(key.Request(), validation.DefaultValidationOptions()); err != nil {
		return quote.Result{}, err
	}
	q, err := e.query.Get(ctx, key)
	if err != nil {
		return quote.Result{Key: key, Err: err}, err
	}
	return quote.Result{Key: key, Quote: q, FetchedAt: time.Now()}, nil
}

// LatestQuote returns the result published for the current selection
func (e *Engine) LatestQuote() (quote.Result, bool) {
	latest, ok := e.query.Latest()
	if !ok || latest.Key != state.QuoteKey(e.store.Snapshot()) {
		return quote.Result{}, false
	}
	return latest, true
}

// CompareQuotes fans one request out to several endpoints, drops unusable
// results and orders the rest by policy
func (e *Engine) CompareQuotes(ctx context.Context, endpoints []model.EndpointRequest, policy aggregate.Policy) ([]model.EndpointQuote, error) {
	params := state.QuoteRequest(e.store.Snapshot())
	results, err := e.quotes.FetchFanOutQuotes(ctx, params, endpoints)
	if err != nil {
		return nil, err
	}
	return aggregate.RankQuotes(aggregate.FilterOutliers(validation.FilterQuotes(results)), policy), nil
}

// Connect attaches a wallet of kind
func (e *Engine) Connect(ctx context.Context, kind wallet.Kind) (*wallet.Account, error) {
	return e.session.Connect(ctx, kind)
}

// Reconnect restores the last connected wallet, if any
func (e *Engine) Reconnect(ctx context.Context) (*wallet.Account, error) {
	return e.session.Reconnect(ctx)
}

// Disconnect detaches the wallet
func (e *Engine) Disconnect() {
	e.session.Disconnect()
	e.store.Dispatch(state.SetTrader{Address: ""})
}

func (e *Engine) onWalletChain(name types.SupportedChain) {
	if name == e.store.Snapshot().Chain.Name {
		return
	}
	chain, err := e.catalog.Chain(name)
	if err != nil {
		e.log.WithError(err).Debug("Ignoring wallet chain")
		return
	}
	e.store.Dispatch(state.SetChain{Config: chain})
}

func (e *Engine) onWalletConnected(account wallet.Account) {
	e.store.Dispatch(state.SetTrader{Address: account.Address.Hex()})
	e.store.Dispatch(state.BumpBalanceKey{})
}

// Balance reads the connected account's balance of token in human units
func (e *Engine) Balance(ctx context.Context, token model.Token) (decimal.Decimal, error) {
	ws := e.session.State()
	if !ws.Connected() {
		return decimal.Zero, wallet.ErrNotConnected
	}
	reader, ok := ws.Capability.(wallet.ChainReader)
	if !ok {
		return decimal.Zero, ErrWalletUnsupported
	}
	raw := wallet.ReadTokenBalance(ctx, reader, common.HexToAddress(token.Address), ws.Address)
	return amount.FromScaledInteger(raw, token.Decimals), nil
}

// Execute runs the swap for the current selection with the connected wallet
func (e *Engine) Execute(ctx context.Context) (*swap.Settlement, error) {
	ws := e.session.State()
	if !ws.Connected() {
		return nil, wallet.ErrNotConnected
	}
	w, ok := ws.Capability.(swap.Wallet)
	if !ok {
		return nil, ErrWalletUnsupported
	}

	s := e.store.Snapshot()
	req := swap.Request{
		Chain:    s.Chain,
		TokenIn:  s.TokenIn,
		TokenOut: s.TokenOut,
		Amount:   state.ScaledAmount(s),
		Trader:   ws.Address,
	}

	if state.Intent(s).NeedsQuote() {
		if latest, ok := e.LatestQuote(); ok && latest.OK() {
			req.Quote = latest.Quote
		} else if res, err := e.Quote(ctx); err == nil {
			req.Quote = res.Quote
		}
	}

	return e.orchestrator.Execute(ctx, w, req)
}

func (e *Engine) onPhase(p swap.Phase) {
	e.log.WithField("phase", p.String()).Debug("Swap phase")
	busy := p != swap.PhaseIdle
	if e.store.Snapshot().Busy != busy {
		e.store.Dispatch(state.SetBusy{Busy: busy})
	}
}

func (e *Engine) onIncluded(s *swap.Settlement) {
	e.query.Invalidate()
	next := e.store.Dispatch(state.BumpBalanceKey{})
	if e.settlements != nil {
		e.settlements.Add(next.Chain.Name, s)
	}
}
