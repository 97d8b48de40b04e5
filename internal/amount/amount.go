// Package amount converts between user-typed amount strings, exact decimal
// values and on-chain integer amounts scaled by a token's decimals.
package amount

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MaxIntegerDigits caps the integer part of an edited amount
const MaxIntegerDigits = 10

// UnknownDecimals marks a token whose decimals could not be resolved
const UnknownDecimals int32 = -1

var log = logrus.WithField("component", "amount")

// FilterDecimal drops every character that is not a digit or '.'.
func FilterDecimal(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RemoveExtraSeparators keeps the first '.' and removes every later one.
// A trailing separator survives so "1." stays editable.
func RemoveExtraSeparators(raw string) string {
	head, tail, found := strings.Cut(raw, ".")
	if !found {
		return raw
	}
	return head + "." + strings.ReplaceAll(tail, ".", "")
}

// SanitizeEditBuffer normalises a raw edit to digits and at most one separator.
func SanitizeEditBuffer(raw string) string {
	return RemoveExtraSeparators(FilterDecimal(raw))
}

// ApplyEdit returns the buffer that should replace prev after the user typed raw.
// Edits that push the integer part beyond MaxIntegerDigits are rejected.
func ApplyEdit(prev, raw string) string {
	next := SanitizeEditBuffer(raw)
	intPart, _, _ := strings.Cut(next, ".")
	if len(intPart) > MaxIntegerDigits {
		return prev
	}
	return next
}

// Parse turns an edit buffer into a decimal. Empty or malformed input is
// reported with ok=false and a zero value.
func Parse(value string) (d decimal.Decimal, ok bool) {
	s := SanitizeEditBuffer(value)
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return decimal.Zero, false
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ToScaledInteger multiplies amount by 10^decimals and truncates toward zero.
// Unknown decimals or malformed amounts yield zero so rendering can continue.
func ToScaledInteger(amount string, decimals int32) *big.Int {
	if decimals < 0 {
		log.WithField("amount", amount).Debug("Unknown token decimals, using zero amount")
		return new(big.Int)
	}

	d, ok := Parse(amount)
	if !ok {
		if amount != "" {
			log.WithField("amount", amount).Warn("Malformed amount, using zero amount")
		}
		return new(big.Int)
	}

	return ScaleDecimal(d, decimals)
}

// ScaleDecimal is ToScaledInteger for an already parsed value
func ScaleDecimal(d decimal.Decimal, decimals int32) *big.Int {
	if decimals < 0 {
		return new(big.Int)
	}
	return d.Shift(decimals).BigInt()
}

// FromScaledInteger divides an on-chain integer amount by 10^decimals.
func FromScaledInteger(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil || decimals < 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// FromScaledString is FromScaledInteger for integer strings returned by APIs.
func FromScaledString(raw string, decimals int32) decimal.Decimal {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		if raw != "" {
			log.WithField("raw", raw).Warn("Malformed integer amount, using zero")
		}
		return decimal.Zero
	}
	return FromScaledInteger(v, decimals)
}

// IsZero reports whether an integer amount string is empty or zero.
func IsZero(raw string) bool {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	return !ok || v.Sign() == 0
}
