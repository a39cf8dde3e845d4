package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderGroup ties the per-seller orders of one checkout to a single payment
// session. CartHash backs checkout idempotency.
type OrderGroup struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID    uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	CartHash      string    `gorm:"column:cart_hash;not null;index"`
	CouponCode    *string   `gorm:"column:coupon_code"`
	SubtotalPaise int64     `gorm:"column:subtotal_paise;not null"`
	DiscountPaise int64     `gorm:"column:discount_paise;not null;default:0"`
	TotalPaise    int64     `gorm:"column:total_paise;not null"`

	Orders []Order `gorm:"foreignKey:OrderGroupID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
