package shipments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/catalog"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	dbpkg "github.com/lokalbazaar/lokalbazaar-backend/pkg/db"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logistics"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

// ReasonNoCourier is the detail reason when no carrier covers a lane.
const ReasonNoCourier = "no_courier_available"

type txRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type aggregator interface {
	Serviceability(ctx context.Context, params logistics.ServiceabilityParams) ([]logistics.Carrier, error)
	CreateShipment(ctx context.Context, params logistics.CreateShipmentParams) (string, error)
	AssignCourier(ctx context.Context, shipmentRef, carrierID string, ratePaise int64) (*logistics.AssignResult, error)
	SchedulePickup(ctx context.Context, shipmentRef string) error
	GetLabel(ctx context.Context, shipmentRef string) (string, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// TrackingEventInput is one inbound tracking update, webhook or poll.
type TrackingEventInput struct {
	Status     string
	Note       string
	OccurredAt time.Time
}

// Service drives a shipment through its carrier lifecycle and keeps the
// owning order in step. Status only ever moves forward; stale or replayed
// tracking events are dropped.
type Service interface {
	CheckServiceability(ctx context.Context, orderID uuid.UUID) ([]logistics.Carrier, error)
	CreateShipment(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Shipment, error)
	AssignCourier(ctx context.Context, shipmentRef, carrierID, carrierName string, ratePaise int64, actor *outbox.ActorRef) (*models.Shipment, error)
	SchedulePickup(ctx context.Context, shipmentRef string, actor *outbox.ActorRef) (*models.Shipment, error)
	IngestTrackingEvent(ctx context.Context, shipmentRef string, event TrackingEventInput) (bool, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	GetLabel(ctx context.Context, shipmentRef string) (string, error)
}

type service struct {
	db      txRunner
	repo    Repository
	catalog catalog.Repository
	orders  orders.Service
	agg     aggregator
	events  outboxPublisher
	logger  *logger.Logger
	now     func() time.Time
}

// NewService builds the shipment orchestrator.
func NewService(db txRunner, repo Repository, catalogRepo catalog.Repository, orderSvc orders.Service, agg aggregator, events outboxPublisher, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if agg == nil {
		return nil, fmt.Errorf("logistics aggregator required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:      db,
		repo:    repo,
		catalog: catalogRepo,
		orders:  orderSvc,
		agg:     agg,
		events:  events,
		logger:  logg,
		now:     time.Now,
	}, nil
}

// CheckServiceability lists carriers able to carry the order.
func (s *service) CheckServiceability(ctx context.Context, orderID uuid.UUID) ([]logistics.Carrier, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	seller, weight, err := s.shippingContext(ctx, order)
	if err != nil {
		return nil, err
	}

	carriers, err := s.agg.Serviceability(ctx, logistics.ServiceabilityParams{
		PickupAddress: seller.PickupAddress,
		DestPincode:   order.ShippingAddress.Pincode,
		WeightGrams:   weight,
	})
	if err != nil {
		return nil, err
	}
	if len(carriers) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no courier available").
			WithDetails(map[string]any{"reason": ReasonNoCourier})
	}
	return carriers, nil
}

// CreateShipment registers the order with the aggregator at most once. A
// retry, or a racing duplicate call, returns the existing shipment.
func (s *service) CreateShipment(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Shipment, error) {
	if existing, err := s.repo.FindByOrderID(ctx, orderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading shipment")
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in fulfilment").
			WithDetails(map[string]any{"status": order.Status})
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid")
	}

	seller, weight, err := s.shippingContext(ctx, order)
	if err != nil {
		return nil, err
	}

	ref, err := s.agg.CreateShipment(ctx, logistics.CreateShipmentParams{
		OrderNumber:   order.OrderNumber,
		PickupAddress: seller.PickupAddress,
		DestAddress:   order.ShippingAddress,
		WeightGrams:   weight,
		ValuePaise:    order.TotalAmountPaise,
	})
	if err != nil {
		return nil, err
	}

	shipment := &models.Shipment{
		ID:          uuid.New(),
		OrderID:     orderID,
		ShipmentRef: ref,
		Status:      enums.ShipmentStatusCreated,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, shipment); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, historyRow(shipment.ID, enums.ShipmentStatusCreated, "", s.now())); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording shipment event")
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShipmentCreated,
			AggregateType: enums.AggregateShipment,
			AggregateID:   shipment.ID,
			Actor:         actor,
			Data: map[string]any{
				"orderId":     orderID,
				"shipmentRef": ref,
			},
			Version: 1,
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "uniq_shipments_order_id") {
			// another caller won the create race
			return s.repo.FindByOrderID(ctx, orderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persisting shipment")
	}
	return shipment, nil
}

// AssignCourier books the carrier at the quoted rate. When the aggregator
// schedules pickup in the same call the shipment jumps straight to
// pickup_scheduled and the order moves to shipped.
func (s *service) AssignCourier(ctx context.Context, shipmentRef, carrierID, carrierName string, ratePaise int64, actor *outbox.ActorRef) (*models.Shipment, error) {
	shipment, err := s.getByRef(ctx, shipmentRef)
	if err != nil {
		return nil, err
	}
	if shipment.Status != enums.ShipmentStatusCreated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "courier already assigned").
			WithDetails(map[string]any{"status": shipment.Status})
	}

	result, err := s.agg.AssignCourier(ctx, shipmentRef, carrierID, ratePaise)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.AdvanceStatus(ctx, shipment.ID, enums.ShipmentStatusCreated, enums.ShipmentStatusCourierAssigned)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advancing shipment")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "courier already assigned")
		}
		if err := repo.UpdateAssignment(ctx, shipment.ID, carrierID, carrierName, result.AWB, ratePaise); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording assignment")
		}
		if err := repo.AppendEvent(ctx, historyRow(shipment.ID, enums.ShipmentStatusCourierAssigned, carrierName, s.now())); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording shipment event")
		}
		if err := repo.UpdateOrderTracking(ctx, shipment.OrderID, types.TrackingInfo{
			CarrierID:    carrierID,
			CarrierName:  carrierName,
			TrackingCode: result.AWB,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording tracking info")
		}

		if result.PickupScheduled {
			return s.schedule(ctx, tx, shipment, actor)
		}
		return s.emitStateChange(ctx, tx, shipment.ID, enums.ShipmentStatusCourierAssigned, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.getByRef(ctx, shipmentRef)
}

// SchedulePickup is the manual path for aggregators that do not auto-schedule.
func (s *service) SchedulePickup(ctx context.Context, shipmentRef string, actor *outbox.ActorRef) (*models.Shipment, error) {
	shipment, err := s.getByRef(ctx, shipmentRef)
	if err != nil {
		return nil, err
	}
	if shipment.Status != enums.ShipmentStatusCourierAssigned {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "pickup not schedulable").
			WithDetails(map[string]any{"status": shipment.Status})
	}

	if err := s.agg.SchedulePickup(ctx, shipmentRef); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.schedule(ctx, tx, shipment, actor)
	})
	if err != nil {
		return nil, err
	}
	return s.getByRef(ctx, shipmentRef)
}

// IngestTrackingEvent applies one tracking update. The return reports whether
// the event advanced the shipment; stale and duplicate events return false
// and leave no trace.
func (s *service) IngestTrackingEvent(ctx context.Context, shipmentRef string, input TrackingEventInput) (bool, error) {
	next, err := enums.ParseShipmentStatus(input.Status)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tracking status")
	}
	shipment, err := s.getByRef(ctx, shipmentRef)
	if err != nil {
		return false, err
	}
	if !shipment.Status.AdvancesTo(next) {
		s.logger.Info(s.logger.WithFields(ctx, map[string]any{
			"shipment_ref": shipmentRef,
			"current":      shipment.Status,
			"incoming":     next,
		}), "dropping non-forward tracking event")
		return false, nil
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.AdvanceStatus(ctx, shipment.ID, shipment.Status, next)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advancing shipment")
		}
		if !ok {
			// concurrent event won; this one is no longer forward progress
			return nil
		}
		if err := repo.AppendEvent(ctx, historyRow(shipment.ID, next, input.Note, occurredAt)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording shipment event")
		}
		if err := s.emitStateChange(ctx, tx, shipment.ID, next, nil); err != nil {
			return err
		}

		switch next {
		case enums.ShipmentStatusPickupScheduled:
			s.driveOrder(ctx, tx, shipment.OrderID, enums.OrderStatusShipped)
		case enums.ShipmentStatusDelivered:
			s.driveOrder(ctx, tx, shipment.OrderID, enums.OrderStatusShipped)
			s.driveOrder(ctx, tx, shipment.OrderID, enums.OrderStatusDelivered)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	shipment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading shipment")
	}
	return shipment, nil
}

// GetLabel returns the shipping label URL, fetching and caching it on first
// use.
func (s *service) GetLabel(ctx context.Context, shipmentRef string) (string, error) {
	shipment, err := s.getByRef(ctx, shipmentRef)
	if err != nil {
		return "", err
	}
	if shipment.LabelURL != nil && *shipment.LabelURL != "" {
		return *shipment.LabelURL, nil
	}

	labelURL, err := s.agg.GetLabel(ctx, shipmentRef)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetLabelURL(ctx, shipment.ID, labelURL); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "caching label url")
	}
	return labelURL, nil
}

// schedule moves the shipment into pickup_scheduled and drives the order to
// shipped, inside the caller's transaction.
func (s *service) schedule(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, actor *outbox.ActorRef) error {
	repo := s.repo.WithTx(tx)
	ok, err := repo.AdvanceStatus(ctx, shipment.ID, enums.ShipmentStatusCourierAssigned, enums.ShipmentStatusPickupScheduled)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advancing shipment")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "pickup already scheduled")
	}
	if err := repo.AppendEvent(ctx, historyRow(shipment.ID, enums.ShipmentStatusPickupScheduled, "", s.now())); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording shipment event")
	}
	if err := s.emitStateChange(ctx, tx, shipment.ID, enums.ShipmentStatusPickupScheduled, actor); err != nil {
		return err
	}
	s.driveOrder(ctx, tx, shipment.OrderID, enums.OrderStatusShipped)
	return nil
}

// driveOrder advances the owning order, tolerating transitions another path
// already made.
func (s *service) driveOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus) {
	if _, err := s.orders.Transition(ctx, tx, orderID, to, nil); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			return
		}
		s.logger.Error(s.logger.WithOrderID(ctx, orderID.String()), "driving order from shipment failed", err)
	}
}

func (s *service) emitStateChange(ctx context.Context, tx *gorm.DB, shipmentID uuid.UUID, status enums.ShipmentStatus, actor *outbox.ActorRef) error {
	err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventShipmentStateChanged,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipmentID,
		Actor:         actor,
		Data:          map[string]any{"status": status},
		Version:       1,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing shipment event")
	}
	return nil
}

func (s *service) getByRef(ctx context.Context, shipmentRef string) (*models.Shipment, error) {
	if shipmentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment ref required")
	}
	shipment, err := s.repo.FindByRef(ctx, shipmentRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading shipment")
	}
	return shipment, nil
}

// shippingContext resolves the seller pickup point and the parcel weight for
// an order.
func (s *service) shippingContext(ctx context.Context, order *models.Order) (*models.Seller, int, error) {
	seller, err := s.catalog.FindSeller(ctx, order.SellerID)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading seller")
	}

	ids := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading products")
	}
	weights := make(map[uuid.UUID]int, len(products))
	for _, p := range products {
		weights[p.ID] = p.WeightGrams
	}
	weight := 0
	for _, item := range order.Items {
		weight += weights[item.ProductID] * item.Quantity
	}
	return seller, weight, nil
}

func historyRow(shipmentID uuid.UUID, status enums.ShipmentStatus, note string, at time.Time) *models.ShipmentEvent {
	row := &models.ShipmentEvent{
		ID:         uuid.New(),
		ShipmentID: shipmentID,
		Status:     status,
		OccurredAt: at,
	}
	if note != "" {
		row.Note = &note
	}
	return row
}
