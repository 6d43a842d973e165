// Package pricing computes order totals with exact decimal arithmetic.
//
// Amounts are summed exactly, the discount is applied to the subtotal, the
// tax is applied to the discounted amount, and only the final figure is
// rounded to cents using round-half-even.
package pricing

import "github.com/shopspring/decimal"

// Places is the number of fractional digits kept in a money amount.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Total returns the price of a set of items after an optional percentage
// discount and an optional percentage tax. A nil percentage means the
// adjustment is absent.
func Total(prices []decimal.Decimal, percentOff, taxPercent *decimal.Decimal) decimal.Decimal {
	amount := decimal.Sum(decimal.Zero, prices...)

	if percentOff != nil {
		amount = amount.Mul(one.Sub(percentOff.Div(hundred)))
	}
	if taxPercent != nil {
		amount = amount.Mul(one.Add(taxPercent.Div(hundred)))
	}

	return Round(amount)
}

// Round rounds an amount to cents, sending ties to the even neighbour.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(Places)
}

// MinorUnits converts an amount to the processor's integer representation
// (cents for usd and eur).
func MinorUnits(amount decimal.Decimal) int64 {
	return Round(amount).Shift(Places).IntPart()
}
