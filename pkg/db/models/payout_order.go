package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutOrder records one order folded into a payout. The unique index on
// order_id alone guarantees an order is settled at most once across all
// payouts, regardless of overlapping calculation windows.
type PayoutOrder struct {
	PayoutID          uuid.UUID `gorm:"column:payout_id;type:uuid;primaryKey"`
	OrderID           uuid.UUID `gorm:"column:order_id;type:uuid;primaryKey;uniqueIndex:uniq_payout_orders_order_id"`
	SellerAmountPaise int64     `gorm:"column:seller_amount_paise;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}
