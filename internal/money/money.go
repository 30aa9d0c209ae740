// Package money converts between on-chain integer micro-units and
// human-facing decimal amounts.
//
// On-chain math stays in uint64 micro-units; decimals appear only at the edge
// (API payloads, database rows). Conversions round half-even at 6 fractional
// digits.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimals is the fractional precision of every tracked asset.
const Decimals = 6

var microFactor = decimal.New(1, Decimals)

// FromMicro converts micro-units to a 6-dp decimal amount.
func FromMicro(micro uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(micro)).Div(microFactor)
}

// FromMicroWithDecimals converts using an asset-reported precision.
func FromMicroWithDecimals(micro uint64, decimals uint64) decimal.Decimal {
	if decimals == 0 {
		decimals = Decimals
	}
	return decimal.NewFromInt(int64(micro)).Div(decimal.New(1, int32(decimals)))
}

// ToMicro converts a decimal amount to micro-units, rounding half-even.
// Negative amounts are rejected.
func ToMicro(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative: %s", amount)
	}
	micro := amount.Mul(microFactor).RoundBank(0)
	if !micro.IsInteger() {
		return 0, fmt.Errorf("amount %s does not fit in micro-units", amount)
	}
	return uint64(micro.IntPart()), nil
}

// ParseAmount parses a positive decimal string with at most 6 fractional
// digits, as carried by session frames.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Exponent() < -Decimals {
		return decimal.Decimal{}, fmt.Errorf("amount %q exceeds %d fractional digits", s, Decimals)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("amount must be positive: %q", s)
	}
	return d, nil
}

// Format renders an amount with exactly 6 fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixedBank(Decimals)
}
