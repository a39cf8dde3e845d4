package enums

import "fmt"

// ShipmentStatus tracks carrier-side progress of a shipment.
type ShipmentStatus string

const (
	ShipmentStatusNone            ShipmentStatus = "none"
	ShipmentStatusCreated         ShipmentStatus = "created"
	ShipmentStatusCourierAssigned ShipmentStatus = "courier_assigned"
	ShipmentStatusPickupScheduled ShipmentStatus = "pickup_scheduled"
	ShipmentStatusPickedUp        ShipmentStatus = "picked_up"
	ShipmentStatusInTransit       ShipmentStatus = "in_transit"
	ShipmentStatusOutForDelivery  ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered       ShipmentStatus = "delivered"
	ShipmentStatusReturnToOrigin  ShipmentStatus = "return_to_origin"
)

var validShipmentStatuses = []ShipmentStatus{
	ShipmentStatusNone,
	ShipmentStatusCreated,
	ShipmentStatusCourierAssigned,
	ShipmentStatusPickupScheduled,
	ShipmentStatusPickedUp,
	ShipmentStatusInTransit,
	ShipmentStatusOutForDelivery,
	ShipmentStatusDelivered,
	ShipmentStatusReturnToOrigin,
}

// shipmentStatusRanks orders the happy path monotonically. return_to_origin
// ranks above every in-transit state so a stale transit webhook can never
// pull a returned shipment backward; delivered and return_to_origin are
// mutually unreachable once either is set.
var shipmentStatusRanks = map[ShipmentStatus]int{
	ShipmentStatusNone:            0,
	ShipmentStatusCreated:         1,
	ShipmentStatusCourierAssigned: 2,
	ShipmentStatusPickupScheduled: 3,
	ShipmentStatusPickedUp:        4,
	ShipmentStatusInTransit:       5,
	ShipmentStatusOutForDelivery:  6,
	ShipmentStatusDelivered:       7,
	ShipmentStatusReturnToOrigin:  7,
}

// String implements fmt.Stringer.
func (s ShipmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShipmentStatus.
func (s ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Rank returns the monotonic position of the status, -1 when unknown.
func (s ShipmentStatus) Rank() int {
	if rank, ok := shipmentStatusRanks[s]; ok {
		return rank
	}
	return -1
}

// IsTerminal reports whether the shipment can no longer advance.
func (s ShipmentStatus) IsTerminal() bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusReturnToOrigin
}

// AdvancesTo reports whether moving to next is forward progress.
func (s ShipmentStatus) AdvancesTo(next ShipmentStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	if next == ShipmentStatusReturnToOrigin {
		return s.Rank() >= ShipmentStatusPickedUp.Rank()
	}
	return next.Rank() > s.Rank()
}

// ParseShipmentStatus converts raw input into a ShipmentStatus.
func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}
