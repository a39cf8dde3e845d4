package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// Coupon is a platform discount code. Value is a percentage for percent
// coupons and a paise amount for flat ones.
type Coupon struct {
	ID                  uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code                string           `gorm:"column:code;not null;uniqueIndex:uniq_coupons_code"`
	Type                enums.CouponType `gorm:"column:type;type:text;not null"`
	Value               decimal.Decimal  `gorm:"column:value;type:numeric(12,4);not null"`
	MinOrderAmountPaise int64            `gorm:"column:min_order_amount_paise;not null;default:0"`
	MaxDiscountPaise    *int64           `gorm:"column:max_discount_paise"`
	UsageLimit          int              `gorm:"column:usage_limit;not null"`
	UsedCount           int              `gorm:"column:used_count;not null;default:0"`
	ExpiresAt           *time.Time       `gorm:"column:expires_at"`
	IsActive            bool             `gorm:"column:is_active;not null;default:true"`
	CreatedAt           time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
