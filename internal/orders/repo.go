package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// Repository persists orders and performs the compare-and-swap status writes
// the lifecycle depends on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByGroupID(ctx context.Context, groupID uuid.UUID) ([]models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.Order, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Order, error)
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindStaleConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindStalePendingByCustomer(ctx context.Context, customerID uuid.UUID, cutoff time.Time) ([]models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	TransitionPaymentStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByGroupID(ctx context.Context, groupID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_group_id = ?", groupID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	return orders, err
}

func (r *repository) ListBySeller(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	return orders, err
}

// FindStalePending lists unpaid pending orders created before the cutoff,
// the candidates for automatic cancellation.
func (r *repository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// FindStaleConfirmed lists confirmed orders whose fulfilment never started
// before the cutoff, the auto-cancel candidates among paid orders.
func (r *repository) FindStaleConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND confirmed_at < ?", enums.OrderStatusConfirmed, cutoff).
		Order("confirmed_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// FindStalePendingByCustomer lists one customer's abandoned pending orders,
// released lazily when the customer starts a fresh checkout.
func (r *repository) FindStalePendingByCustomer(ctx context.Context, customerID uuid.UUID, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ? AND created_at < ?", customerID, enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// TransitionStatus flips status only when the row still holds the expected
// current status. A false return means another writer got there first.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) TransitionPaymentStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", id, from).
		Update("payment_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
