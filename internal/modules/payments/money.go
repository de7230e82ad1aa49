package payments

import "github.com/shopspring/decimal"

// Amounts are single-currency with two minor digits.
const minorExp = 2

// ToMinor converts an amount to processor minor units (cents), rounding half away from zero.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(minorExp).Round(0).IntPart()
}

// FromMinor converts processor minor units back to an amount.
func FromMinor(n int64) decimal.Decimal {
	return decimal.New(n, -minorExp)
}

// validAmount reports whether d is positive and carries no sub-cent digits.
func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(minorExp))
}
