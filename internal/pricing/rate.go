package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
)

// rateDigits is the fraction budget used when rendering rates and values
const rateDigits = 3

// Rate is how many output units one input unit buys
func Rate(inputAmount, outputAmount decimal.Decimal) decimal.NullDecimal {
	if inputAmount.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(outputAmount.DivRound(inputAmount, 18))
}

// RateText renders "1 IN = x OUT", or "" when the rate is unknown
func RateText(inSymbol, outSymbol string, rate decimal.NullDecimal) string {
	if !rate.Valid {
		return ""
	}
	return fmt.Sprintf("1 %s = %s %s", inSymbol, amount.FormatDecimal(rate.Decimal, rateDigits), outSymbol)
}

// Value multiplies an amount by a unit price
func Value(amt decimal.Decimal, price decimal.NullDecimal) decimal.NullDecimal {
	if !price.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amt.Mul(price.Decimal))
}

// ValueText renders a value with two fraction digits, or "" when unknown
func ValueText(value decimal.NullDecimal) string {
	if !value.Valid {
		return ""
	}
	return amount.Format(value.Decimal.StringFixed(2))
}
