package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponRedemption pins a coupon use to one checkout group. The composite
// unique index makes redemption idempotent under checkout retries.
type CouponRedemption struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CouponID      uuid.UUID `gorm:"column:coupon_id;type:uuid;not null;uniqueIndex:uniq_coupon_redemptions_group"`
	OrderGroupID  uuid.UUID `gorm:"column:order_group_id;type:uuid;not null;uniqueIndex:uniq_coupon_redemptions_group"`
	DiscountPaise int64     `gorm:"column:discount_paise;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
