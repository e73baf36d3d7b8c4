package orders

import (
	"github.com/shopspring/decimal"
)

// Discount tiers keyed by total unit quantity across the cart.
const (
	discountTierSmallQty  = 3
	discountTierMediumQty = 6
	discountTierLargeQty  = 10

	discountTierSmallBps  = 500
	discountTierMediumBps = 1000
	discountTierLargeBps  = 1500
)

// Totals is the priced breakdown of a cart snapshot.
type Totals struct {
	SubtotalCents    int64
	DiscountCents    int64
	TaxCents         int64
	ShippingFeeCents int64
	TotalCents       int64
}

// discountRateBps returns the volume discount for the total quantity.
func discountRateBps(totalQty int) int {
	switch {
	case totalQty >= discountTierLargeQty:
		return discountTierLargeBps
	case totalQty >= discountTierMediumQty:
		return discountTierMediumBps
	case totalQty >= discountTierSmallQty:
		return discountTierSmallBps
	default:
		return 0
	}
}

// ComputeTotals prices a cart: volume discount off the subtotal, tax on
// the discounted subtotal, flat shipping. All rounding is half-up to cents.
func ComputeTotals(subtotalCents int64, totalQty int, taxRateBps int, shippingFlatCents int64) Totals {
	subtotal := decimal.NewFromInt(subtotalCents)

	discount := subtotal.
		Mul(decimal.NewFromInt(int64(discountRateBps(totalQty)))).
		Div(decimal.NewFromInt(10000)).
		Round(0)

	taxable := subtotal.Sub(discount)
	tax := taxable.
		Mul(decimal.NewFromInt(int64(taxRateBps))).
		Div(decimal.NewFromInt(10000)).
		Round(0)

	discountCents := discount.IntPart()
	taxCents := tax.IntPart()

	return Totals{
		SubtotalCents:    subtotalCents,
		DiscountCents:    discountCents,
		TaxCents:         taxCents,
		ShippingFeeCents: shippingFlatCents,
		TotalCents:       subtotalCents - discountCents + taxCents + shippingFlatCents,
	}
}
