package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
)

// Repository reads the catalog slices the orchestrator depends on: product
// price/weight/shipping config and seller pickup/bank records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	FindSeller(ctx context.Context, id uuid.UUID) (*models.Seller, error)
	FindSellers(ctx context.Context, ids []uuid.UUID) ([]models.Seller, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&products).Error
	return products, err
}

func (r *repository) FindSeller(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	var seller models.Seller
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&seller).Error
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

func (r *repository) FindSellers(ctx context.Context, ids []uuid.UUID) ([]models.Seller, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var sellers []models.Seller
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&sellers).Error
	return sellers, err
}
