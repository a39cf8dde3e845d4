package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// Shipment is the one-to-one carrier record for an order. The unique index
// on order_id makes shipment creation at-most-once per order.
type Shipment struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:uniq_shipments_order_id"`
	ShipmentRef string               `gorm:"column:shipment_ref;not null;uniqueIndex:uniq_shipments_ref"`
	CarrierID   *string              `gorm:"column:carrier_id"`
	CarrierName *string              `gorm:"column:carrier_name"`
	AWB         *string              `gorm:"column:awb"`
	RatePaise   int64                `gorm:"column:rate_paise;not null;default:0"`
	ETA         *time.Time           `gorm:"column:eta"`
	Status      enums.ShipmentStatus `gorm:"column:status;type:text;not null;default:'created'"`
	LabelURL    *string              `gorm:"column:label_url"`

	Events []ShipmentEvent `gorm:"foreignKey:ShipmentID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
