package coupons

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
)

// Repository exposes coupon lookup and redemption persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	IncrementUsage(ctx context.Context, couponID uuid.UUID) (bool, error)
	CreateRedemption(ctx context.Context, redemption *models.CouponRedemption) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a coupons repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// IncrementUsage bumps used_count only while it is below the limit, so two
// racing redemptions can never push a coupon past its cap.
func (r *repository) IncrementUsage(ctx context.Context, couponID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("id = ? AND used_count < usage_limit", couponID).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CreateRedemption(ctx context.Context, redemption *models.CouponRedemption) error {
	return r.db.WithContext(ctx).Create(redemption).Error
}
