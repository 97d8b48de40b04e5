package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Azurepeal/neighbor-swap/internal/amount"
)

// SevereImpactPercent is the impact above which a swap is flagged
var SevereImpactPercent = decimal.NewFromInt(5)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// PriceImpactPercent compares the USD value going in with the USD value
// coming out: 100 * ((in*inPrice) / (out*outPrice) - 1).
// A missing or zero price, or a zero output value, yields an invalid result
// so "not computed" is never confused with 0%.
func PriceImpactPercent(inputAmount decimal.Decimal, inputPrice decimal.NullDecimal, outputAmount decimal.Decimal, outputPrice decimal.NullDecimal) decimal.NullDecimal {
	if !inputPrice.Valid || !outputPrice.Valid {
		return decimal.NullDecimal{}
	}
	if inputPrice.Decimal.IsZero() || outputPrice.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}

	outValue := outputAmount.Mul(outputPrice.Decimal)
	if outValue.IsZero() {
		return decimal.NullDecimal{}
	}

	ratio := inputAmount.Mul(inputPrice.Decimal).DivRound(outValue, 18)
	return decimal.NewNullDecimal(ratio.Sub(one).Mul(hundred))
}

// ImpactLabel renders an impact for display. Values up to 1% collapse to
// "< 1%"; a value that could not be computed renders as "-".
func ImpactLabel(impact decimal.NullDecimal) string {
	if !impact.Valid {
		return "-"
	}
	if impact.Decimal.LessThanOrEqual(one) {
		return "< 1%"
	}
	return amount.FormatDecimal(impact.Decimal, impactDigits) + "%"
}

// impactDigits is the significant fraction budget for impact labels
const impactDigits = 1

// IsSevereImpact reports whether impact exceeds SevereImpactPercent
func IsSevereImpact(impact decimal.NullDecimal) bool {
	return impact.Valid && impact.Decimal.GreaterThan(SevereImpactPercent)
}
