package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

// Product carries the catalog fields the orchestrator needs: price, weight
// for serviceability queries, and who pays shipping.
type Product struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID          uuid.UUID            `gorm:"column:seller_id;type:uuid;not null;index"`
	Title             string               `gorm:"column:title;not null"`
	ImageURL          *string              `gorm:"column:image_url"`
	PricePaise        int64                `gorm:"column:price_paise;not null"`
	WeightGrams       int                  `gorm:"column:weight_grams;not null;default:0"`
	ShippingPaidBy    enums.ShippingPayer  `gorm:"column:shipping_paid_by;type:text;not null;default:'customer'"`
	CustomizationSpec types.Customizations `gorm:"column:customization_spec;type:jsonb;serializer:json"`
	IsActive          bool                 `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
