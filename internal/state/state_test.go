package state

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

const trader = "0x1111111111111111111111111111111111111111"

func aurora(t *testing.T) types.ChainConfig {
	t.Helper()
	chain, err := config.DefaultCatalog().Chain(types.ChainAurora)
	require.NoError(t, err)
	return chain
}

func token(t *testing.T, chain types.ChainConfig, symbol string) model.Token {
	t.Helper()
	tok, ok := chain.TokenBySymbol(symbol)
	require.True(t, ok, "catalog should list %s", symbol)
	return tok
}

func TestNewSeedsPair(t *testing.T) {
	chain := aurora(t)
	s := New(chain)

	assert.Equal(t, chain.Tokens[0], s.TokenIn)
	assert.Equal(t, chain.Tokens[1], s.TokenOut)
	assert.Equal(t, DefaultSlippageBps, s.SlippageBps)
	assert.Equal(t, CurrencyUSD, s.Currency)
}

func TestSetChainWithShortCatalogClearsPair(t *testing.T) {
	s := New(aurora(t))
	s = Reduce(s, SetChain{Config: types.ChainConfig{Name: "solo", Tokens: []model.Token{{Address: "0x01"}}}})
	assert.Empty(t, s.TokenIn.Address)
	assert.Empty(t, s.TokenOut.Address)
}

func TestSetSameChainKeepsPair(t *testing.T) {
	chain := aurora(t)
	s := New(chain)
	s = Reduce(s, SelectTokenOut{Token: token(t, chain, "USDC")})
	s = Reduce(s, SetChain{Config: chain})
	assert.Equal(t, "USDC", s.TokenOut.Symbol)
}

func TestSelectingOppositeTokenReverses(t *testing.T) {
	chain := aurora(t)
	s := New(chain)
	s = Reduce(s, EditAmount{Raw: "12.5"})
	s = Reduce(s, CommitAmount{Amount: "12.5"})

	in, out := s.TokenIn, s.TokenOut
	s = Reduce(s, SelectTokenIn{Token: out})

	assert.Equal(t, out, s.TokenIn)
	assert.Equal(t, in, s.TokenOut)
	assert.Equal(t, "0", s.AmountInput, "reverse resets the amount")
	assert.Equal(t, "0", s.Amount)

	s = Reduce(s, SelectTokenOut{Token: s.TokenIn})
	assert.Equal(t, in, s.TokenIn)
}

func TestEditAmount(t *testing.T) {
	s := New(aurora(t))

	s = Reduce(s, EditAmount{Raw: "1,234.5.6"})
	assert.Equal(t, "1234.56", s.AmountInput)

	s = Reduce(s, EditAmount{Raw: "12345678901"})
	assert.Equal(t, "1234.56", s.AmountInput, "an 11 digit integer part is rejected")

	s = Reduce(s, EditAmount{Raw: "112."})
	assert.Equal(t, "112.", s.AmountInput)
	assert.Empty(t, s.Amount, "editing does not drive quoting until committed")
}

func TestSettleAmountFollowsBuffer(t *testing.T) {
	s := New(aurora(t))
	s = Reduce(s, EditAmount{Raw: "5"})
	s = Reduce(s, SettleAmount{Amount: "5"})
	assert.Equal(t, "5", s.Amount)

	s = Reduce(s, EditAmount{Raw: "7"})
	s = Reduce(s, Reverse{})
	s = Reduce(s, SettleAmount{Amount: "7"})
	assert.Equal(t, "0", s.AmountInput)
	assert.Equal(t, "0", s.Amount, "a stale debounced value is dropped")
}

func TestSetSlippagePercent(t *testing.T) {
	s := New(aurora(t))
	s = Reduce(s, SetSlippagePercent{Percent: decimal.RequireFromString("0.5")})
	assert.Equal(t, 50, s.SlippageBps)

	s = Reduce(s, SetSlippagePercent{Percent: decimal.RequireFromString("-1")})
	assert.Equal(t, 50, s.SlippageBps)
}

func TestModeAndCurrency(t *testing.T) {
	s := New(aurora(t))
	assert.False(t, QuoteRequest(s).WithCycle)

	s = Reduce(s, SetMode{Mode: ModeFlash})
	assert.True(t, QuoteRequest(s).WithCycle)

	s = Reduce(s, SetCurrency{Currency: CurrencyKRW})
	assert.Equal(t, CurrencyKRW, s.Currency)
	s = Reduce(s, SetCurrency{Currency: "eur"})
	assert.Equal(t, CurrencyKRW, s.Currency)

	mode, ok := ParseMode("flash")
	assert.True(t, ok)
	assert.Equal(t, ModeFlash, mode)
	_, ok = ParseMode("bridge")
	assert.False(t, ok)
}

func TestQuoteRequest(t *testing.T) {
	chain := aurora(t)
	s := New(chain)
	s = Reduce(s, SelectTokenIn{Token: token(t, chain, "USDC")})
	s = Reduce(s, SelectTokenOut{Token: token(t, chain, "WETH")})
	s = Reduce(s, SetTrader{Address: trader})
	s = Reduce(s, CommitAmount{Amount: "1.5"})

	req := QuoteRequest(s)
	assert.Equal(t, "1500000", req.Amount)
	assert.Equal(t, trader, req.From)
	assert.Equal(t, 100, req.SlippageBps)
	assert.Equal(t, 4, req.MaxEdge)
	assert.Equal(t, 1, req.MaxSplit)

	assert.Equal(t, QuoteKey(s), QuoteKey(s))
	assert.Equal(t, chain.APIEndpoint, QuoteKey(s).Endpoint)
}

func TestQuoteEnabled(t *testing.T) {
	chain := aurora(t)
	s := New(chain)
	s = Reduce(s, SelectTokenIn{Token: token(t, chain, "USDC")})
	s = Reduce(s, SelectTokenOut{Token: token(t, chain, "WETH")})
	s = Reduce(s, CommitAmount{Amount: "1"})
	assert.False(t, QuoteEnabled(s), "no trader yet")

	s = Reduce(s, SetTrader{Address: trader})
	assert.True(t, QuoteEnabled(s))

	s = Reduce(s, CommitAmount{Amount: "0.0000001"})
	assert.False(t, QuoteEnabled(s), "truncates to zero units for a 6 decimal token")

	wrap := Reduce(s, SelectTokenIn{Token: token(t, chain, "ETH")})
	wrap = Reduce(wrap, CommitAmount{Amount: "1"})
	assert.Equal(t, model.IntentWrap, Intent(wrap))
	assert.False(t, QuoteEnabled(wrap), "wrap never hits the routing API")
}

func TestSwapEnabled(t *testing.T) {
	chain := aurora(t)
	generic := New(chain)
	generic = Reduce(generic, SelectTokenIn{Token: token(t, chain, "USDC")})
	generic = Reduce(generic, SelectTokenOut{Token: token(t, chain, "WETH")})
	connected := Reduce(generic, SetTrader{Address: trader})

	withPayload := &model.QuoteResult{MetamaskSwapTransaction: &model.TxPayload{To: "0x01"}}
	quoteOnly := &model.QuoteResult{}

	wrap := Reduce(connected, SelectTokenIn{Token: token(t, chain, "ETH")})

	tests := []struct {
		name  string
		state State
		quote *model.QuoteResult
		want  bool
	}{
		{"no wallet leads to connect", generic, nil, true},
		{"busy", Reduce(connected, SetBusy{Busy: true}), withPayload, false},
		{"flash mode", Reduce(connected, SetMode{Mode: ModeFlash}), nil, true},
		{"wrap needs no quote", wrap, nil, true},
		{"payload present", connected, withPayload, true},
		{"quote only", connected, quoteOnly, false},
		{"no quote", connected, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SwapEnabled(tt.state, tt.quote))
		})
	}
}

func TestPersistAndRestorePair(t *testing.T) {
	chain := aurora(t)
	prefs := config.NewMemoryPreferences()

	s := New(chain)
	s = Reduce(s, SelectTokenIn{Token: token(t, chain, "USDT")})
	s = Reduce(s, SelectTokenOut{Token: token(t, chain, "AURORA")})
	PersistPair(prefs, s)

	restored := RestorePair(prefs, New(chain))
	assert.Equal(t, "USDT", restored.TokenIn.Symbol)
	assert.Equal(t, "AURORA", restored.TokenOut.Symbol)

	require.NoError(t, prefs.Set(config.PrefSwapToToken, "0xdead"))
	fallback := RestorePair(prefs, New(chain))
	assert.Equal(t, chain.Tokens[0], fallback.TokenIn, "unknown tokens are ignored")
}

func TestStoreNotifiesSubscribers(t *testing.T) {
	store := NewStore(New(aurora(t)))

	var mu sync.Mutex
	var keys []int
	unsubscribe := store.Subscribe(func(prev, next State) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, next.BalanceKey)
		assert.Equal(t, prev.BalanceKey+1, next.BalanceKey)
	})

	store.Dispatch(BumpBalanceKey{})
	store.Dispatch(BumpBalanceKey{})
	unsubscribe()
	store.Dispatch(BumpBalanceKey{})

	assert.Equal(t, []int{1, 2}, keys)
	assert.Equal(t, 3, store.Snapshot().BalanceKey)
}
