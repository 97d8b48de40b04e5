package amount

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Format renders a value with comma grouping and its full fraction.
// Malformed input renders as "".
func Format(value string) string {
	return format(value, 0)
}

// FormatSignificant renders a value with comma grouping and at most digits
// fraction digits. Values below one get extra room for their leading zeros
// so they are not rounded away.
func FormatSignificant(value string, digits int) string {
	return format(value, digits)
}

// FormatDecimal is FormatSignificant for decimal values. digits <= 0 shows
// the full fraction.
func FormatDecimal(d decimal.Decimal, digits int) string {
	return format(d.String(), digits)
}

func format(value string, digits int) string {
	input := SanitizeEditBuffer(value)
	if input == "" || input == "." {
		return ""
	}

	d, ok := Parse(input)
	if !ok {
		log.WithField("value", value).Debug("Cannot format non-numeric value")
		return ""
	}

	_, frac, hasDot := strings.Cut(input, ".")
	intPart := d.Truncate(0)
	fraction := "." + frac

	if budget := fractionBudget(d, len(frac), digits); budget > 0 {
		rounded := decimal.RequireFromString("0." + frac).Round(int32(budget))
		if rounded.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			intPart = intPart.Add(decimal.NewFromInt(1))
			rounded = rounded.Sub(decimal.NewFromInt(1))
		}
		fraction = strings.TrimPrefix(rounded.StringFixed(int32(budget)), "0")
	}

	out := groupThousands(intPart.BigInt().String())
	if hasDot {
		out += fraction
	}
	return out
}

// fractionBudget decides how many fraction digits to render. Zero means the
// fraction is shown as typed.
func fractionBudget(d decimal.Decimal, fracLen, digits int) int {
	if digits <= 0 {
		return 0
	}
	if e := magnitude(d); e < 0 {
		return min(digits-e-1, fracLen+2)
	}
	return min(digits, fracLen)
}

// magnitude returns the base-10 exponent of d in scientific notation,
// e.g. -3 for 0.00123 and 3 for 1234.5.
func magnitude(d decimal.Decimal) int {
	if d.IsZero() {
		return 0
	}
	c := d.Coefficient()
	return len(c.Abs(c).String()) + int(d.Exponent()) - 1
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
