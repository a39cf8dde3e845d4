package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
)

// Repository reads payment sessions and performs the compare-and-swap writes
// that make reconciliation idempotent.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByProviderRef(ctx context.Context, providerRef string) (*models.PaymentSession, error)
	FindByGroupID(ctx context.Context, groupID uuid.UUID) (*models.PaymentSession, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payment sessions repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByProviderRef(ctx context.Context, providerRef string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("provider_ref = ?", providerRef).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) FindByGroupID(ctx context.Context, groupID uuid.UUID) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("order_group_id = ?", groupID).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkCompleted flips the session to completed only once. The losing caller
// of a reconciliation race sees false and treats the payment as already
// reconciled.
func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("id = ? AND status = ?", id, enums.PaymentSessionStatusCreated).
		Updates(map[string]any{
			"status":        enums.PaymentSessionStatusCompleted,
			"reconciled_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("id = ? AND status = ?", id, enums.PaymentSessionStatusCreated).
		Update("status", enums.PaymentSessionStatusFailed)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
