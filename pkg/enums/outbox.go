package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder      OutboxAggregateType = "order"
	AggregateOrderGroup OutboxAggregateType = "order_group"
	AggregateShipment   OutboxAggregateType = "shipment"
	AggregatePayout     OutboxAggregateType = "payout"
	AggregateCoupon     OutboxAggregateType = "coupon"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateOrderGroup,
	AggregateShipment,
	AggregatePayout,
	AggregateCoupon,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated         OutboxEventType = "order_created"
	EventOrderConfirmed       OutboxEventType = "order_confirmed"
	EventOrderStateChanged    OutboxEventType = "order_state_changed"
	EventOrderCancelled       OutboxEventType = "order_cancelled"
	EventOrderDelivered       OutboxEventType = "order_delivered"
	EventPaymentReconciled    OutboxEventType = "payment_reconciled"
	EventPaymentFailed        OutboxEventType = "payment_failed"
	EventRefundInitiated      OutboxEventType = "refund_initiated"
	EventShipmentCreated      OutboxEventType = "shipment_created"
	EventShipmentStateChanged OutboxEventType = "shipment_state_changed"
	EventReservationReleased  OutboxEventType = "reservation_released"
	EventPayoutCreated        OutboxEventType = "payout_created"
	EventPayoutPaid           OutboxEventType = "payout_paid"
	EventCouponRedeemed       OutboxEventType = "coupon_redeemed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderConfirmed,
	EventOrderStateChanged,
	EventOrderCancelled,
	EventOrderDelivered,
	EventPaymentReconciled,
	EventPaymentFailed,
	EventRefundInitiated,
	EventShipmentCreated,
	EventShipmentStateChanged,
	EventReservationReleased,
	EventPayoutCreated,
	EventPayoutPaid,
	EventCouponRedeemed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
