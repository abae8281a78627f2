// Package money provides the exact fixed-point arithmetic the core requires.
// The legacy source multiplied price*quantity as float64; §9 of the design
// flags that as a correctness bug. Every price, quantity, and balance in
// this module is a decimal.Decimal instead.
package money

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits balances and quantities carry.
const Scale = 10

// Zero is the additive identity, exported so callers don't re-derive it.
var Zero = decimal.Zero

// RoundCommission rounds a commission amount to the asset's minimum
// increment using half-to-even (banker's) rounding, per spec §9.
// incrementExponent is the increment as a power of ten (-8 means 1e-8), so
// it is negated to get RoundBank's count of decimal places.
func RoundCommission(amount decimal.Decimal, incrementExponent int32) decimal.Decimal {
	return amount.RoundBank(-incrementExponent)
}

// Mul multiplies price by quantity at full precision then rounds to Scale.
func Mul(price, quantity decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).RoundBank(Scale)
}

// Positive reports whether d is strictly greater than zero.
func Positive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// NonNegative reports whether d is greater than or equal to zero.
func NonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}
