package enums

import "fmt"

// ShippingPayer identifies who absorbs the shipping cost of an order.
type ShippingPayer string

const (
	ShippingPayerSeller   ShippingPayer = "seller"
	ShippingPayerCustomer ShippingPayer = "customer"
)

var validShippingPayers = []ShippingPayer{
	ShippingPayerSeller,
	ShippingPayerCustomer,
}

// String implements fmt.Stringer.
func (s ShippingPayer) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShippingPayer.
func (s ShippingPayer) IsValid() bool {
	for _, candidate := range validShippingPayers {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseShippingPayer converts raw input into a ShippingPayer.
func ParseShippingPayer(value string) (ShippingPayer, error) {
	for _, candidate := range validShippingPayers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping payer %q", value)
}
