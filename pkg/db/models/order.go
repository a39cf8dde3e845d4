package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

// Order is the per-seller order produced by splitting a checkout group.
// Financial fields are snapshots in paise and are never recomputed after
// payment confirmation.
type Order struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber  string    `gorm:"column:order_number;not null;uniqueIndex:uniq_orders_order_number"`
	OrderGroupID uuid.UUID `gorm:"column:order_group_id;type:uuid;not null;index"`
	CustomerID   uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	SellerID     uuid.UUID `gorm:"column:seller_id;type:uuid;not null;index"`

	Status        enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'unpaid'"`

	ItemTotalPaise          int64               `gorm:"column:item_total_paise;not null"`
	DiscountPaise           int64               `gorm:"column:discount_paise;not null;default:0"`
	ShippingCostPaise       int64               `gorm:"column:shipping_cost_paise;not null;default:0"`
	ActualShippingCostPaise int64               `gorm:"column:actual_shipping_cost_paise;not null;default:0"`
	ShippingPaidBy          enums.ShippingPayer `gorm:"column:shipping_paid_by;type:text;not null;default:'customer'"`
	CommissionRate          decimal.Decimal     `gorm:"column:commission_rate;type:numeric(6,4);not null"`
	CommissionPaise         int64               `gorm:"column:commission_paise;not null"`
	GatewayFeeRate          decimal.Decimal     `gorm:"column:gateway_fee_rate;type:numeric(6,4);not null"`
	GatewayFeePaise         int64               `gorm:"column:gateway_fee_paise;not null"`
	SellerAmountPaise       int64               `gorm:"column:seller_amount_paise;not null"`
	TotalAmountPaise        int64               `gorm:"column:total_amount_paise;not null"`

	ShippingAddress types.Address       `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	TrackingInfo    *types.TrackingInfo `gorm:"column:tracking_info;type:jsonb;serializer:json"`
	Warnings        []string            `gorm:"column:warnings;type:jsonb;serializer:json"`

	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at;index"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
