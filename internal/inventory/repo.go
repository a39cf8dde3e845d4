package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
)

// Repository exposes the stock counter and reservation ledger operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ReserveStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error
	CommitStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	CreateReservation(ctx context.Context, reservation *models.InventoryReservation) error
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.InventoryReservation, error)
	MarkReleased(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCommitted(ctx context.Context, id uuid.UUID) (bool, error)
	FindItem(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ReserveStock decrements available and increments reserved in one
// conditional update. A zero row count means insufficient stock, never a
// partial write.
func (r *repository) ReserveStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.InventoryItem{}).
		Where("product_id = ? AND available_qty >= ?", productID, qty).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty - ?", qty),
			"reserved_qty":  gorm.Expr("reserved_qty + ?", qty),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).Model(&models.InventoryItem{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty + ?", qty),
			"reserved_qty":  gorm.Expr("reserved_qty - ?", qty),
		}).Error
}

func (r *repository) CommitStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.InventoryItem{}).
		Where("product_id = ? AND reserved_qty >= ?", productID, qty).
		Updates(map[string]any{
			"reserved_qty": gorm.Expr("reserved_qty - ?", qty),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.InventoryReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.InventoryReservation, error) {
	var rows []models.InventoryReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND released_at IS NULL AND committed_at IS NULL", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// MarkReleased flips released_at only when the row is still active, so a
// concurrent or repeated release touches each reservation once.
func (r *repository) MarkReleased(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.InventoryReservation{}).
		Where("id = ? AND released_at IS NULL AND committed_at IS NULL", id).
		Update("released_at", time.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkCommitted(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.InventoryReservation{}).
		Where("id = ? AND released_at IS NULL AND committed_at IS NULL", id).
		Update("committed_at", time.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindItem(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}
