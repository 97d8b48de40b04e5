package app

import (
	"github.com/shopspring/decimal"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/pricing"
	"github.com/Azurepeal/neighbor-swap/internal/quote"
	"github.com/Azurepeal/neighbor-swap/internal/state"
)

// displayDigits is the fraction budget for displayed token amounts
const displayDigits = 6

// Preview is what the swap screen shows for the current selection
type Preview struct {
	Intent   model.SwapIntent `json:"-"`
	TokenIn  model.Token      `json:"tokenIn"`
	TokenOut model.Token      `json:"tokenOut"`

	AmountIn      decimal.Decimal `json:"amountIn"`
	AmountOut     decimal.Decimal `json:"amountOut"`
	AmountOutText string          `json:"amountOutText"`

	Rate     decimal.NullDecimal `json:"rate"`
	RateText string              `json:"rateText"`

	Impact       decimal.NullDecimal `json:"impact"`
	ImpactLabel  string              `json:"impactLabel"`
	SevereImpact bool                `json:"severeImpact"`

	Currency     state.Currency `json:"currency"`
	ValueInText  string         `json:"valueIn"`
	ValueOutText string         `json:"valueOut"`

	IntentName  string `json:"intent"`
	ExpectedRaw string `json:"expectedAmountOut,omitempty"`
	SingleDexes int    `json:"singleDexes"`
	HasPayload  bool   `json:"hasPayload"`
	SwapEnabled bool   `json:"swapEnabled"`
	QuoteError  string `json:"quoteError,omitempty"`
}

// BuildPreview derives the display values for s and the quote result res.
// Wrap and unwrap are one to one and need no quote. A failed or missing
// quote yields a zero output and a disabled swap.
func BuildPreview(s state.State, res quote.Result, prices *pricing.Resolver) Preview {
	intent := state.Intent(s)
	in, _ := amount.Parse(s.Amount)

	p := Preview{
		Intent:     intent,
		IntentName: intent.String(),
		TokenIn:    s.TokenIn,
		TokenOut:   s.TokenOut,
		AmountIn:   in,
		AmountOut:  decimal.Zero,
		Currency:   s.Currency,
	}

	var q *model.QuoteResult
	switch {
	case !intent.NeedsQuote():
		p.AmountOut = in
	case res.Err != nil:
		p.QuoteError = res.Err.Error()
	case res.Quote != nil:
		q = res.Quote
		p.ExpectedRaw = q.DexAgg.ExpectedAmountOut
		p.AmountOut = amount.FromScaledString(q.DexAgg.ExpectedAmountOut, s.TokenOut.Decimals)
		p.SingleDexes = len(q.SingleDexes)
	}

	p.HasPayload = q.HasPayload()
	p.SwapEnabled = state.SwapEnabled(s, q)
	p.AmountOutText = amount.FormatDecimal(p.AmountOut, displayDigits)
	p.Rate = pricing.Rate(p.AmountIn, p.AmountOut)
	p.RateText = pricing.RateText(s.TokenIn.Symbol, s.TokenOut.Symbol, p.Rate)

	if prices == nil {
		p.ImpactLabel = pricing.ImpactLabel(p.Impact)
		return p
	}

	if intent.NeedsQuote() && q != nil {
		p.Impact = pricing.PriceImpactPercent(
			p.AmountIn, prices.UnitPriceUSD(s.Chain, s.TokenIn.Address),
			p.AmountOut, prices.UnitPriceUSD(s.Chain, s.TokenOut.Address),
		)
	}
	p.ImpactLabel = pricing.ImpactLabel(p.Impact)
	p.SevereImpact = pricing.IsSevereImpact(p.Impact)

	currency := string(s.Currency)
	p.ValueInText = pricing.ValueText(pricing.Value(p.AmountIn, prices.UnitPriceInCurrency(s.Chain, s.TokenIn.Address, currency)))
	p.ValueOutText = pricing.ValueText(pricing.Value(p.AmountOut, prices.UnitPriceInCurrency(s.Chain, s.TokenOut.Address, currency)))
	return p
}

// Preview builds the preview for the current selection and its latest quote
func (e *Engine) Preview() Preview {
	res, _ := e.LatestQuote()
	return BuildPreview(e.store.Snapshot(), res, e.prices)
}
