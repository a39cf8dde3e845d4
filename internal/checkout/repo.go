package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
)

// Repository persists the artifacts of one checkout: the order group, the
// per-seller orders with their item snapshots, and the payment session.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateGroup(ctx context.Context, group *models.OrderGroup) error
	FindGroupByCartHash(ctx context.Context, customerID uuid.UUID, cartHash string) (*models.OrderGroup, error)
	FindGroupByID(ctx context.Context, id uuid.UUID) (*models.OrderGroup, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateSession(ctx context.Context, session *models.PaymentSession) error
	FindSessionByGroup(ctx context.Context, groupID uuid.UUID) (*models.PaymentSession, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateGroup(ctx context.Context, group *models.OrderGroup) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *repository) FindGroupByCartHash(ctx context.Context, customerID uuid.UUID, cartHash string) (*models.OrderGroup, error) {
	var group models.OrderGroup
	err := r.db.WithContext(ctx).
		Preload("Orders").
		Preload("Orders.Items").
		Where("customer_id = ? AND cart_hash = ?", customerID, cartHash).
		Order("created_at DESC").
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *repository) FindGroupByID(ctx context.Context, id uuid.UUID) (*models.OrderGroup, error) {
	var group models.OrderGroup
	err := r.db.WithContext(ctx).
		Preload("Orders").
		Preload("Orders.Items").
		Where("id = ?", id).
		First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) CreateSession(ctx context.Context, session *models.PaymentSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindSessionByGroup(ctx context.Context, groupID uuid.UUID) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("order_group_id = ?", groupID).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}
