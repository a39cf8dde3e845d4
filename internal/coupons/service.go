package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/lokalbazaar/lokalbazaar-backend/pkg/db"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
)

// Rejection reasons surfaced in the error details of Evaluate.
const (
	ReasonNotFound     = "not_found"
	ReasonInactive     = "inactive"
	ReasonExpired      = "expired"
	ReasonBelowMinimum = "below_minimum"
	ReasonLimitReached = "limit_reached"
)

// Evaluation is the outcome of applying a coupon to a cart subtotal.
type Evaluation struct {
	Coupon        *models.Coupon
	DiscountPaise int64
}

// Service evaluates coupon codes and records redemptions.
type Service interface {
	Evaluate(ctx context.Context, code string, subtotalPaise int64) (*Evaluation, error)
	Redeem(ctx context.Context, tx *gorm.DB, couponID, orderGroupID uuid.UUID, discountPaise int64) error
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the coupon evaluator.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupons repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

// Evaluate computes the discount for a subtotal without side effects. Every
// rejection carries a machine-readable reason so checkout can decide whether
// to fail or proceed with zero discount.
func (s *service) Evaluate(ctx context.Context, code string, subtotalPaise int64) (*Evaluation, error) {
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	if subtotalPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must be positive")
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rejection(pkgerrors.CodeNotFound, "coupon not found", ReasonNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading coupon")
	}

	if !coupon.IsActive {
		return nil, rejection(pkgerrors.CodeValidation, "coupon is inactive", ReasonInactive)
	}
	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(s.now()) {
		return nil, rejection(pkgerrors.CodeValidation, "coupon has expired", ReasonExpired)
	}
	if subtotalPaise < coupon.MinOrderAmountPaise {
		return nil, rejection(pkgerrors.CodeValidation, "subtotal below coupon minimum", ReasonBelowMinimum)
	}
	if coupon.UsedCount >= coupon.UsageLimit {
		return nil, rejection(pkgerrors.CodeValidation, "coupon usage limit reached", ReasonLimitReached)
	}

	return &Evaluation{
		Coupon:        coupon,
		DiscountPaise: discountFor(coupon, subtotalPaise),
	}, nil
}

// Redeem increments the usage count and pins the redemption to the checkout
// group. A retry of the same group is a no-op, not a second use.
func (s *service) Redeem(ctx context.Context, tx *gorm.DB, couponID, orderGroupID uuid.UUID, discountPaise int64) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if couponID == uuid.Nil || orderGroupID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon id and order group id required")
	}
	repo := s.repo.WithTx(tx)

	redemption := models.CouponRedemption{
		ID:            uuid.New(),
		CouponID:      couponID,
		OrderGroupID:  orderGroupID,
		DiscountPaise: discountPaise,
	}
	if err := repo.CreateRedemption(ctx, &redemption); err != nil {
		if dbpkg.IsUniqueViolation(err, "uniq_coupon_redemptions_group") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording redemption")
	}

	ok, err := repo.IncrementUsage(ctx, couponID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "incrementing coupon usage")
	}
	if !ok {
		return rejection(pkgerrors.CodeConflict, "coupon usage limit reached", ReasonLimitReached)
	}
	return nil
}

func discountFor(coupon *models.Coupon, subtotalPaise int64) int64 {
	var discount int64
	switch coupon.Type {
	case enums.CouponTypePercent:
		discount = decimal.NewFromInt(subtotalPaise).
			Mul(coupon.Value).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
		if coupon.MaxDiscountPaise != nil && discount > *coupon.MaxDiscountPaise {
			discount = *coupon.MaxDiscountPaise
		}
	case enums.CouponTypeFlat:
		discount = coupon.Value.Round(0).IntPart()
	}
	if discount > subtotalPaise {
		discount = subtotalPaise
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

func rejection(code pkgerrors.Code, message, reason string) *pkgerrors.Error {
	return pkgerrors.New(code, message).WithDetails(map[string]any{"reason": reason})
}
