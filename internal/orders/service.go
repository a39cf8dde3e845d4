package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
)

type txRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type inventoryReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error)
}

// Service owns the order lifecycle. Every status change goes through a
// compare-and-swap on the current status, so two writers racing on the same
// order cannot both win.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetGroup(ctx context.Context, groupID uuid.UUID) ([]models.Order, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.Order, error)
	ListForSeller(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Order, error)
	Transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, actor *outbox.ActorRef) (*models.Order, error)
	MarkProcessing(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error)
	Cancel(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string, actor *outbox.ActorRef) (*models.Order, error)
	SetPaymentStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) error
	ReleaseAbandoned(ctx context.Context, customerID uuid.UUID, cutoff time.Time) (int, error)
}

type service struct {
	db        txRunner
	repo      Repository
	inventory inventoryReleaser
	events    outboxPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewService builds the order lifecycle service.
func NewService(db txRunner, repo Repository, inv inventoryReleaser, events outboxPublisher, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{db: db, repo: repo, inventory: inv, events: events, logger: logg, now: time.Now}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}
	return order, nil
}

func (s *service) GetGroup(ctx context.Context, groupID uuid.UUID) ([]models.Order, error) {
	orders, err := s.repo.FindByGroupID(ctx, groupID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order group")
	}
	if len(orders) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order group not found")
	}
	return orders, nil
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	orders, err := s.repo.ListByCustomer(ctx, customerID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing orders")
	}
	return orders, nil
}

func (s *service) ListForSeller(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	orders, err := s.repo.ListBySeller(ctx, sellerID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing orders")
	}
	return orders, nil
}

// Transition moves the order to the target status if the lifecycle allows it
// and no concurrent writer changed the row first.
func (s *service) Transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, actor *outbox.ActorRef) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}

	from := order.Status
	if !from.CanTransitionTo(to) {
		return nil, transitionConflict(from, to)
	}

	ok, err := repo.TransitionStatus(ctx, orderID, from, to, s.timestampsFor(to))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating order status")
	}
	if !ok {
		// lost the race; report the conflict against what we read
		return nil, transitionConflict(from, to)
	}

	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventFor(to),
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor,
		Data: map[string]any{
			"orderNumber": order.OrderNumber,
			"from":        from,
			"to":          to,
		},
		Version: 1,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing order event")
	}

	s.logger.Info(s.logger.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"from":     from,
		"to":       to,
	}), "order status changed")

	return repo.FindByID(ctx, orderID)
}

// MarkProcessing moves a confirmed order into fulfilment.
func (s *service) MarkProcessing(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error) {
	var order *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.Transition(ctx, tx, orderID, enums.OrderStatusProcessing, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel transitions the order to cancelled and releases any stock still held
// for it. Cancellation is only reachable before fulfilment begins; once a
// courier is assigned the lifecycle no longer has a cancel edge.
func (s *service) Cancel(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string, actor *outbox.ActorRef) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}

	from := order.Status
	if !from.CanTransitionTo(enums.OrderStatusCancelled) {
		return nil, transitionConflict(from, enums.OrderStatusCancelled)
	}

	ok, err := repo.TransitionStatus(ctx, orderID, from, enums.OrderStatusCancelled, s.timestampsFor(enums.OrderStatusCancelled))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancelling order")
	}
	if !ok {
		return nil, transitionConflict(from, enums.OrderStatusCancelled)
	}

	released, err := s.inventory.Release(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if released > 0 {
		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationReleased,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor,
			Data:          map[string]any{"releasedLines": released},
			Version:       1,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing release event")
		}
	}

	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor,
		Data: map[string]any{
			"orderNumber": order.OrderNumber,
			"from":        from,
			"reason":      reason,
		},
		Version: 1,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing cancel event")
	}

	return repo.FindByID(ctx, orderID)
}

// SetPaymentStatus flips payment_status when its current value is one of the
// expected states. Anything else is a state conflict.
func (s *service) SetPaymentStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	ok, err := s.repo.WithTx(tx).TransitionPaymentStatus(ctx, orderID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating payment status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment status not updatable").
			WithDetails(map[string]any{"to": to})
	}
	return nil
}

// ReleaseAbandoned cancels the customer's pending orders that were created
// before the cutoff and never paid, freeing their reservations. Called when
// the customer starts a fresh checkout; the sweeper covers everyone else.
func (s *service) ReleaseAbandoned(ctx context.Context, customerID uuid.UUID, cutoff time.Time) (int, error) {
	stale, err := s.repo.FindStalePendingByCustomer(ctx, customerID, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading abandoned orders")
	}

	released := 0
	for _, order := range stale {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			_, err := s.Cancel(ctx, tx, order.ID, "abandoned", nil)
			return err
		})
		if err != nil {
			// a concurrent payment may have confirmed the order meanwhile
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func (s *service) timestampsFor(to enums.OrderStatus) map[string]any {
	now := s.now()
	switch to {
	case enums.OrderStatusConfirmed:
		return map[string]any{"confirmed_at": now}
	case enums.OrderStatusShipped:
		return map[string]any{"shipped_at": now}
	case enums.OrderStatusDelivered:
		return map[string]any{"delivered_at": now}
	case enums.OrderStatusCancelled:
		return map[string]any{"cancelled_at": now}
	}
	return nil
}

func eventFor(to enums.OrderStatus) enums.OutboxEventType {
	switch to {
	case enums.OrderStatusConfirmed:
		return enums.EventOrderConfirmed
	case enums.OrderStatusDelivered:
		return enums.EventOrderDelivered
	case enums.OrderStatusCancelled:
		return enums.EventOrderCancelled
	default:
		return enums.EventOrderStateChanged
	}
}

func transitionConflict(from, to enums.OrderStatus) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
		WithDetails(map[string]any{"from": from, "to": to})
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
