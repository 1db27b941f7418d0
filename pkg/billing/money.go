package billing

import "math"

// All billing arithmetic runs on integer minor units (cents). Conversion to
// and from major units happens only at the API boundary.

// MajorToMinor converts a major-unit value (e.g. dollars) to minor units
func MajorToMinor(value float64) int64 {
	return int64(math.Round(value * 100))
}

// MinorToMajor converts minor units to a major-unit value for display
func MinorToMajor(cents int64) float64 {
	return float64(cents) / 100
}

// DiscountCents computes the discount a coupon grants against an amount.
// Percentage coupons round half away from zero; fixed coupons carry their
// value in major units and convert at the same rounding.
func DiscountCents(amountCents int64, couponType CouponType, value int64) int64 {
	switch couponType {
	case CouponTypePercentage:
		return int64(math.Round(float64(amountCents) * float64(value) / 100))
	case CouponTypeFixed:
		return int64(math.Round(float64(value) * 100))
	default:
		return 0
	}
}

// ApplyDiscountCents returns the amount after a discount, floored at zero
func ApplyDiscountCents(amountCents int64, couponType CouponType, value int64) int64 {
	discounted := amountCents - DiscountCents(amountCents, couponType, value)
	if discounted < 0 {
		return 0
	}
	return discounted
}

// PayableCents returns the amount actually due on the invoice: the gross
// amount minus the applied coupon snapshot's discount, if any
func (i *Invoice) PayableCents() int64 {
	if i.CouponType == nil || i.CouponValue == nil {
		return i.AmountCents
	}
	return ApplyDiscountCents(i.AmountCents, *i.CouponType, *i.CouponValue)
}
