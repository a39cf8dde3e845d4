package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

// Payout is a seller settlement for one period, created exclusively by the
// payout batch engine and immutable once paid.
type Payout struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID    uuid.UUID `gorm:"column:seller_id;type:uuid;not null;index"`
	PeriodStart time.Time `gorm:"column:period_start;not null"`
	PeriodEnd   time.Time `gorm:"column:period_end;not null"`
	PeriodLabel string    `gorm:"column:period_label;not null"`

	OrderCount               int   `gorm:"column:order_count;not null"`
	TotalSalesPaise          int64 `gorm:"column:total_sales_paise;not null"`
	CommissionDeductedPaise  int64 `gorm:"column:commission_deducted_paise;not null"`
	GatewayFeesDeductedPaise int64 `gorm:"column:gateway_fees_deducted_paise;not null"`
	ShippingDeductedPaise    int64 `gorm:"column:shipping_deducted_paise;not null"`
	NetPayoutPaise           int64 `gorm:"column:net_payout_paise;not null"`

	Status              enums.PayoutStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	HoldReason          *string            `gorm:"column:hold_reason"`
	FailureDetails      *string            `gorm:"column:failure_details"`
	BankDetailsSnapshot *types.BankDetails `gorm:"column:bank_details_snapshot;type:jsonb;serializer:json"`
	TransactionID       *string            `gorm:"column:transaction_id"`
	PaidAt              *time.Time         `gorm:"column:paid_at"`

	Orders []PayoutOrder `gorm:"foreignKey:PayoutID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
