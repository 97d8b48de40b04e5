package pricing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

const (
	native = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	weth   = "0xc9bdeed33cd01541e1eed10f90519d2c06fe3feb"
	usdc   = "0xb12bfca5a55806aaf64e99521918a4bf0fc40802"
)

var aurora = types.ChainConfig{
	Name:               types.ChainAurora,
	APIEndpoint:        "https://api-aurora.example.com",
	NativeToken:        native,
	WrappedNativeToken: weth,
}

type fakeSource struct {
	mu        sync.Mutex
	ethPrice  float64
	rate      string
	listErr   error
	listCalls atomic.Int32
	rateCalls atomic.Int32
	gate      chan struct{}
}

func (f *fakeSource) FetchPriceList(ctx context.Context, endpoint, address string) ([]model.TokenPrice, error) {
	f.listCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []model.TokenPrice{
		{TokenAddress: "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE", PriceUsdc: f.ethPrice},
		{TokenAddress: usdc, PriceUsdc: 1},
	}, nil
}

func (f *fakeSource) FetchCurrencyRate(ctx context.Context, endpoint, coinID, target string) (decimal.Decimal, error) {
	f.rateCalls.Add(1)
	return decimal.RequireFromString(f.rate), nil
}

func TestResolverStaleWhileRevalidate(t *testing.T) {
	src := &fakeSource{ethPrice: 2500, rate: "1"}
	r := NewResolver(src, "https://api.example.com", time.Minute)

	first := r.UnitPriceUSD(aurora, native)
	assert.False(t, first.Valid, "nothing cached yet")

	r.Wait()
	price := r.UnitPriceUSD(aurora, native)
	require.True(t, price.Valid)
	assert.Equal(t, "2500", price.Decimal.String())
	assert.Equal(t, int32(1), src.listCalls.Load(), "fresh entries are not refetched")
}

func TestResolverReturnsPreviousValueDuringRefresh(t *testing.T) {
	src := &fakeSource{ethPrice: 2500, rate: "1"}
	r := NewResolver(src, "https://api.example.com", time.Minute)
	require.NoError(t, r.Refresh(context.Background(), aurora, "usd"))

	now := time.Now().Add(2 * time.Minute)
	r.now = func() time.Time { return now }

	src.mu.Lock()
	src.ethPrice = 3000
	src.mu.Unlock()
	src.gate = make(chan struct{})

	stale := r.UnitPriceUSD(aurora, native)
	again := r.UnitPriceUSD(aurora, native)
	assert.Equal(t, "2500", stale.Decimal.String(), "stale value served while refreshing")
	assert.Equal(t, "2500", again.Decimal.String())

	close(src.gate)
	r.Wait()

	assert.Equal(t, int32(2), src.listCalls.Load(), "only one refresh in flight per key")
	assert.Equal(t, "3000", r.UnitPriceUSD(aurora, native).Decimal.String())
}

func TestResolverKeepsValueOnFailedRefresh(t *testing.T) {
	src := &fakeSource{ethPrice: 2500, rate: "1"}
	r := NewResolver(src, "https://api.example.com", time.Minute)
	require.NoError(t, r.Refresh(context.Background(), aurora, "usd"))

	now := time.Now().Add(2 * time.Minute)
	r.now = func() time.Time { return now }
	src.listErr = errors.New("boom")

	r.UnitPriceUSD(aurora, native)
	r.Wait()

	assert.Equal(t, "2500", r.UnitPriceUSD(aurora, native).Decimal.String())
}

func TestResolverWrappedNativeSharesNativePrice(t *testing.T) {
	src := &fakeSource{ethPrice: 2500, rate: "1"}
	r := NewResolver(src, "https://api.example.com", time.Minute)
	require.NoError(t, r.Refresh(context.Background(), aurora, "usd"))

	wrapped := r.UnitPriceUSD(aurora, "0xC9BDEED33CD01541E1EED10F90519D2C06FE3FEB")
	require.True(t, wrapped.Valid)
	assert.True(t, wrapped.Decimal.Equal(r.UnitPriceUSD(aurora, native).Decimal))

	unknown := r.UnitPriceUSD(aurora, "0x0000000000000000000000000000000000000001")
	assert.False(t, unknown.Valid, "unlisted tokens are absent, not zero")
}

func TestResolverUnitPriceInCurrency(t *testing.T) {
	src := &fakeSource{ethPrice: 2500, rate: "1300.5"}
	r := NewResolver(src, "https://api.example.com", time.Minute)

	assert.False(t, r.UnitPriceInCurrency(aurora, usdc, "krw").Valid)
	r.Wait()

	krw := r.UnitPriceInCurrency(aurora, usdc, "KRW")
	require.True(t, krw.Valid)
	assert.Equal(t, "1300.5", krw.Decimal.String())

	eth := r.UnitPriceInCurrency(aurora, weth, "krw")
	require.True(t, eth.Valid)
	assert.Equal(t, "3251250", eth.Decimal.String())
}

func TestResolverStartStops(t *testing.T) {
	src := &fakeSource{ethPrice: 1, rate: "1"}
	r := NewResolver(src, "https://api.example.com", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx, aurora, "usd", 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return src.listCalls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop")
	}
}

func TestPriceImpactPercent(t *testing.T) {
	price := decimal.NewNullDecimal(decimal.NewFromInt(1))

	impact := PriceImpactPercent(decimal.NewFromInt(100), price, decimal.NewFromInt(95), price)
	require.True(t, impact.Valid)
	assert.Equal(t, "5.26", impact.Decimal.Round(2).String())
	assert.Equal(t, "5.3%", ImpactLabel(impact))
	assert.True(t, IsSevereImpact(impact))
}

func TestPriceImpactNotComputed(t *testing.T) {
	price := decimal.NewNullDecimal(decimal.NewFromInt(1))
	missing := decimal.NullDecimal{}
	zero := decimal.NewNullDecimal(decimal.Zero)

	tests := []struct {
		name     string
		inPrice  decimal.NullDecimal
		outPrice decimal.NullDecimal
		out      decimal.Decimal
	}{
		{"missing input price", missing, price, decimal.NewFromInt(95)},
		{"missing output price", price, missing, decimal.NewFromInt(95)},
		{"zero price", zero, price, decimal.NewFromInt(95)},
		{"zero output", price, price, decimal.Zero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impact := PriceImpactPercent(decimal.NewFromInt(100), tt.inPrice, tt.out, tt.outPrice)
			assert.False(t, impact.Valid, "must be not computed, not zero")
			assert.Equal(t, "-", ImpactLabel(impact))
			assert.False(t, IsSevereImpact(impact))
		})
	}
}

func TestImpactLabelBelowOne(t *testing.T) {
	assert.Equal(t, "< 1%", ImpactLabel(decimal.NewNullDecimal(decimal.RequireFromString("0.4"))))
	assert.Equal(t, "< 1%", ImpactLabel(decimal.NewNullDecimal(decimal.RequireFromString("-2.5"))))
	assert.Equal(t, "< 1%", ImpactLabel(decimal.NewNullDecimal(decimal.NewFromInt(1))), "exactly 1% is not shown as a number")
}

func TestImpactLabelAboveOne(t *testing.T) {
	tests := []struct {
		impact string
		want   string
	}{
		{"1.04", "1.0%"},
		{"2", "2%"},
		{"12.25", "12.3%"},
		{"1234.56", "1,234.6%"},
	}
	for _, tt := range tests {
		t.Run(tt.impact, func(t *testing.T) {
			assert.Equal(t, tt.want, ImpactLabel(decimal.NewNullDecimal(decimal.RequireFromString(tt.impact))))
		})
	}
}

func TestRate(t *testing.T) {
	rate := Rate(decimal.NewFromInt(2), decimal.RequireFromString("5000.5"))
	require.True(t, rate.Valid)
	assert.Equal(t, "1 WETH = 2,500.25 USDC", RateText("WETH", "USDC", rate))

	assert.False(t, Rate(decimal.Zero, decimal.NewFromInt(1)).Valid)
	assert.Equal(t, "", RateText("A", "B", decimal.NullDecimal{}))
}

func TestValue(t *testing.T) {
	v := Value(decimal.RequireFromString("1.5"), decimal.NewNullDecimal(decimal.NewFromInt(2500)))
	assert.Equal(t, "3,750.00", ValueText(v))
	assert.Equal(t, "", ValueText(Value(decimal.NewFromInt(1), decimal.NullDecimal{})))
}
