package enums

import "fmt"

// CouponType distinguishes percentage coupons from flat-amount ones.
type CouponType string

const (
	CouponTypePercent CouponType = "percent"
	CouponTypeFlat    CouponType = "flat"
)

var validCouponTypes = []CouponType{
	CouponTypePercent,
	CouponTypeFlat,
}

// String implements fmt.Stringer.
func (c CouponType) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CouponType.
func (c CouponType) IsValid() bool {
	for _, candidate := range validCouponTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCouponType converts raw input into a CouponType.
func ParseCouponType(value string) (CouponType, error) {
	for _, candidate := range validCouponTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon type %q", value)
}
