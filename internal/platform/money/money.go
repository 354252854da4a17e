// Package money converts between the integer-cent amounts used internally
// and the decimal amounts on the wire.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToCents converts a decimal currency amount to integer cents, rounding
// half away from zero.
func ToCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(hundred).Round(0).IntPart()
}

// FromCents converts integer cents to the decimal representation the
// upstream and API callers expect.
func FromCents(cents int64) float64 {
	f, _ := decimal.NewFromInt(cents).Div(hundred).Float64()
	return f
}
