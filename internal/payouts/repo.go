package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// Repository persists payouts and the per-order inclusion rows whose unique
// index enforces at-most-once settlement.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSettleableOrders(ctx context.Context, periodStart, periodEnd time.Time) ([]models.Order, error)
	CreatePayout(ctx context.Context, payout *models.Payout) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	List(ctx context.Context, sellerID *uuid.UUID, limit, offset int) ([]models.Payout, error)
	MarkPaid(ctx context.Context, id uuid.UUID, transactionID string, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payouts repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindSettleableOrders lists delivered, paid orders in the window that no
// existing payout has claimed yet. Exclusion checks every payout ever
// created, not just the current window.
func (r *repository) FindSettleableOrders(ctx context.Context, periodStart, periodEnd time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ?", enums.OrderStatusDelivered, enums.PaymentStatusPaid).
		Where("delivered_at >= ? AND delivered_at <= ?", periodStart, periodEnd).
		Where("id NOT IN (?)", r.db.Model(&models.PayoutOrder{}).Select("order_id")).
		Order("seller_id ASC, delivered_at ASC").
		Find(&orders).Error
	return orders, err
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Preload("Orders").
		Where("id = ?", id).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) List(ctx context.Context, sellerID *uuid.UUID, limit, offset int) ([]models.Payout, error) {
	q := r.db.WithContext(ctx).Preload("Orders").Order("created_at DESC").Limit(limit).Offset(offset)
	if sellerID != nil {
		q = q.Where("seller_id = ?", *sellerID)
	}
	var payouts []models.Payout
	err := q.Find(&payouts).Error
	return payouts, err
}

// MarkPaid settles the payout only while it still awaits payment.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, transactionID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status IN ?", id, []enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing}).
		Updates(map[string]any{
			"status":         enums.PayoutStatusPaid,
			"transaction_id": transactionID,
			"paid_at":        at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
