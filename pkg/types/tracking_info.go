package types

import "time"

// TrackingInfo is the customer-facing tracking snapshot kept on the order.
type TrackingInfo struct {
	CarrierID    string     `json:"carrier_id"`
	CarrierName  string     `json:"carrier_name"`
	TrackingCode string     `json:"tracking_code"`
	ETA          *time.Time `json:"eta,omitempty"`
}
