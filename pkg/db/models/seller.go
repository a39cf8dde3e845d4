package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

// Seller holds the settlement-relevant seller record: pickup address for
// shipments, bank details for payouts, optional commission override.
type Seller struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name               string             `gorm:"column:name;not null"`
	PickupAddress      types.Address      `gorm:"column:pickup_address;type:jsonb;serializer:json"`
	BankDetails        *types.BankDetails `gorm:"column:bank_details;type:jsonb;serializer:json"`
	CommissionOverride *decimal.Decimal   `gorm:"column:commission_override;type:numeric(6,4)"`
	IsActive           bool               `gorm:"column:is_active;not null;default:true"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
