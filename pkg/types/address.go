package types

import (
	"fmt"
	"strings"
)

// Address is the immutable shipping snapshot stored on orders, jsonb-serialized.
type Address struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Line1   string  `json:"line1"`
	Line2   *string `json:"line2,omitempty"`
	City    string  `json:"city"`
	State   string  `json:"state"`
	Pincode string  `json:"pincode"`
	Country string  `json:"country"`
}

// Validate checks the fields needed to create a shipment.
func (a Address) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing line1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if strings.TrimSpace(a.State) == "" {
		return fmt.Errorf("address: missing state")
	}
	if len(strings.TrimSpace(a.Pincode)) != 6 {
		return fmt.Errorf("address: pincode must be 6 digits")
	}
	return nil
}
