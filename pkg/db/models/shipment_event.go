package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// ShipmentEvent is one row of the append-only shipment status history.
type ShipmentEvent struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ShipmentID uuid.UUID            `gorm:"column:shipment_id;type:uuid;not null;index"`
	Status     enums.ShipmentStatus `gorm:"column:status;type:text;not null"`
	Note       *string              `gorm:"column:note"`
	OccurredAt time.Time            `gorm:"column:occurred_at;not null"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
}
