package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryReservation is the ledger row backing a reserved order line. The
// composite unique index lets release run idempotently per order/product.
type InventoryReservation struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID  `gorm:"column:order_id;type:uuid;not null;uniqueIndex:uniq_inventory_reservations_line"`
	ProductID   uuid.UUID  `gorm:"column:product_id;type:uuid;not null;uniqueIndex:uniq_inventory_reservations_line"`
	Qty         int        `gorm:"column:qty;not null"`
	ReleasedAt  *time.Time `gorm:"column:released_at"`
	CommittedAt *time.Time `gorm:"column:committed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
