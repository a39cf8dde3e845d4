package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

// OrderItem snapshots a cart line at checkout time. Title, image and price
// are copied so later catalog edits never touch settled orders.
type OrderItem struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID            `gorm:"column:product_id;type:uuid;not null"`
	Title          string               `gorm:"column:title;not null"`
	ImageURL       *string              `gorm:"column:image_url"`
	UnitPricePaise int64                `gorm:"column:unit_price_paise;not null"`
	Quantity       int                  `gorm:"column:quantity;not null"`
	Customizations types.Customizations `gorm:"column:customizations;type:jsonb;serializer:json"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
}
