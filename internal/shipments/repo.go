package shipments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

// Repository persists shipments and their append-only event history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, shipment *models.Shipment) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	FindByRef(ctx context.Context, shipmentRef string) (*models.Shipment, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to enums.ShipmentStatus) (bool, error)
	UpdateAssignment(ctx context.Context, id uuid.UUID, carrierID, carrierName, awb string, ratePaise int64) error
	SetLabelURL(ctx context.Context, id uuid.UUID, labelURL string) error
	AppendEvent(ctx context.Context, event *models.ShipmentEvent) error
	UpdateOrderTracking(ctx context.Context, orderID uuid.UUID, info types.TrackingInfo) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a shipments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("occurred_at ASC")
		}).
		Where("order_id = ?", orderID).
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) FindByRef(ctx context.Context, shipmentRef string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("occurred_at ASC")
		}).
		Where("shipment_ref = ?", shipmentRef).
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// AdvanceStatus flips status only when the row still holds the expected one,
// so replayed webhooks and racing operators cannot move a shipment backward.
func (r *repository) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to enums.ShipmentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Shipment{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) UpdateAssignment(ctx context.Context, id uuid.UUID, carrierID, carrierName, awb string, ratePaise int64) error {
	return r.db.WithContext(ctx).Model(&models.Shipment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"carrier_id":   carrierID,
			"carrier_name": carrierName,
			"awb":          awb,
			"rate_paise":   ratePaise,
		}).Error
}

func (r *repository) SetLabelURL(ctx context.Context, id uuid.UUID, labelURL string) error {
	return r.db.WithContext(ctx).Model(&models.Shipment{}).
		Where("id = ?", id).
		Update("label_url", labelURL).Error
}

func (r *repository) AppendEvent(ctx context.Context, event *models.ShipmentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) UpdateOrderTracking(ctx context.Context, orderID uuid.UUID, info types.TrackingInfo) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("tracking_info", info).Error
}
