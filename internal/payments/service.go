package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
)

// Outcome is the result of one reconciliation attempt.
type Outcome string

const (
	OutcomeReconciled        Outcome = "reconciled"
	OutcomeNotCompleted      Outcome = "not_completed"
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	OutcomeFailed            Outcome = "failed"
)

type txRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type provider interface {
	GetStatus(ctx context.Context, sessionID string) (*payments.SessionStatus, error)
	Refund(ctx context.Context, transactionID string, amountPaise int64) error
}

type stockCommitter interface {
	Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service reconciles payment sessions against the provider. The provider
// call happens first, with no locks held; domain state mutates afterwards
// behind a compare-and-swap on the session status, so verifying an already
// reconciled payment is a no-op.
type Service interface {
	Verify(ctx context.Context, providerRef string) (Outcome, error)
	VerifyOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error)
	ApplyProviderStatus(ctx context.Context, providerRef string, status payments.ProviderStatus) (Outcome, error)
	RefundGroup(ctx context.Context, groupID uuid.UUID, amountPaise int64) error
	CancelWithRefund(ctx context.Context, orderID uuid.UUID, reason string, actor *outbox.ActorRef) (*models.Order, error)
}

type service struct {
	db       txRunner
	repo     Repository
	orders   orders.Service
	stock    stockCommitter
	provider provider
	events   outboxPublisher
	logger   *logger.Logger
	now      func() time.Time
}

// NewService builds the reconciliation service.
func NewService(db txRunner, repo Repository, orderSvc orders.Service, stock stockCommitter, prov provider, events outboxPublisher, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if prov == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:       db,
		repo:     repo,
		orders:   orderSvc,
		stock:    stock,
		provider: prov,
		events:   events,
		logger:   logg,
		now:      time.Now,
	}, nil
}

// Verify asks the provider for the session outcome and applies it. A provider
// timeout surfaces as an error and leaves every order pending, safe to retry.
func (s *service) Verify(ctx context.Context, providerRef string) (Outcome, error) {
	session, err := s.findSession(ctx, providerRef)
	if err != nil {
		return "", err
	}
	return s.verifySession(ctx, session)
}

// VerifyOrder reconciles through an order id: the order resolves to its group
// and the group to the combined payment session.
func (s *service) VerifyOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	session, err := s.repo.FindByGroupID(ctx, order.OrderGroupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment session")
	}
	return s.verifySession(ctx, session)
}

func (s *service) verifySession(ctx context.Context, session *models.PaymentSession) (Outcome, error) {
	if session.Status != enums.PaymentSessionStatusCreated {
		return OutcomeAlreadyReconciled, nil
	}
	status, err := s.provider.GetStatus(ctx, session.ProviderRef)
	if err != nil {
		return "", err
	}
	return s.apply(ctx, session, status.Status)
}

// ApplyProviderStatus runs the reconciliation with a status pushed by the
// provider, the webhook path. It goes through the same compare-and-swap
// transitions as Verify.
func (s *service) ApplyProviderStatus(ctx context.Context, providerRef string, status payments.ProviderStatus) (Outcome, error) {
	session, err := s.findSession(ctx, providerRef)
	if err != nil {
		return "", err
	}
	if session.Status != enums.PaymentSessionStatusCreated {
		return OutcomeAlreadyReconciled, nil
	}
	return s.apply(ctx, session, status)
}

// RefundGroup reverses the settled charge for an order group, used when a
// paid order is cancelled.
func (s *service) RefundGroup(ctx context.Context, groupID uuid.UUID, amountPaise int64) error {
	session, err := s.repo.FindByGroupID(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment session")
	}
	if session.Status != enums.PaymentSessionStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "session is not settled").
			WithDetails(map[string]any{"status": session.Status})
	}

	status, err := s.provider.GetStatus(ctx, session.ProviderRef)
	if err != nil {
		return err
	}
	if err := s.provider.Refund(ctx, status.TransactionID, amountPaise); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundInitiated,
			AggregateType: enums.AggregateOrderGroup,
			AggregateID:   groupID,
			Data: map[string]any{
				"amountPaise":   amountPaise,
				"transactionId": status.TransactionID,
			},
			Version: 1,
		})
	})
}

// CancelWithRefund cancels one order and, when it was already paid, pushes a
// refund for that order's share of the group charge. The refund happens after
// the cancel transaction commits; a crash between the two leaves the order
// cancelled+paid for the auto-cancel sweep to finish.
func (s *service) CancelWithRefund(ctx context.Context, orderID uuid.UUID, reason string, actor *outbox.ActorRef) (*models.Order, error) {
	var cancelled *models.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		cancelled, err = s.orders.Cancel(ctx, tx, orderID, reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cancelled.PaymentStatus != enums.PaymentStatusPaid {
		return cancelled, nil
	}

	if err := s.RefundGroup(ctx, cancelled.OrderGroupID, cancelled.TotalAmountPaise); err != nil {
		return cancelled, err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.orders.SetPaymentStatus(ctx, tx, orderID,
			[]enums.PaymentStatus{enums.PaymentStatusPaid}, enums.PaymentStatusRefunded)
	})
	if err != nil {
		return cancelled, err
	}
	cancelled.PaymentStatus = enums.PaymentStatusRefunded
	return cancelled, nil
}

func (s *service) findSession(ctx context.Context, providerRef string) (*models.PaymentSession, error) {
	if providerRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	session, err := s.repo.FindByProviderRef(ctx, providerRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment session")
	}
	return session, nil
}

func (s *service) apply(ctx context.Context, session *models.PaymentSession, status payments.ProviderStatus) (Outcome, error) {
	switch status {
	case payments.StatusCompleted:
		return s.reconcile(ctx, session)
	case payments.StatusFailed:
		return s.fail(ctx, session)
	default:
		// pending or anything the client normalized to pending
		return OutcomeNotCompleted, nil
	}
}

func (s *service) reconcile(ctx context.Context, session *models.PaymentSession) (Outcome, error) {
	outcome := OutcomeReconciled
	var refundPaise int64
	var refundOrderIDs []uuid.UUID
	err := s.db.Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.WithTx(tx).MarkCompleted(ctx, session.ID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "completing session")
		}
		if !won {
			outcome = OutcomeAlreadyReconciled
			return nil
		}

		group, err := s.orders.GetGroup(ctx, session.OrderGroupID)
		if err != nil {
			return err
		}
		for _, order := range group {
			// cancelled before the outcome arrived, by the customer or the
			// abandonment sweep; the charge still settled, so this order's
			// share goes back through the refund path instead of wedging
			// the whole group on a confirm it can no longer make
			if order.Status == enums.OrderStatusCancelled {
				refundPaise += order.TotalAmountPaise
				refundOrderIDs = append(refundOrderIDs, order.ID)
				continue
			}
			if _, err := s.orders.Transition(ctx, tx, order.ID, enums.OrderStatusConfirmed, nil); err != nil {
				return err
			}
			if err := s.orders.SetPaymentStatus(ctx, tx, order.ID,
				[]enums.PaymentStatus{enums.PaymentStatusUnpaid}, enums.PaymentStatusPaid); err != nil {
				return err
			}
			if err := s.stock.Commit(ctx, tx, order.ID); err != nil {
				return err
			}
		}

		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentReconciled,
			AggregateType: enums.AggregateOrderGroup,
			AggregateID:   session.OrderGroupID,
			Data: map[string]any{
				"providerRef": session.ProviderRef,
				"amountPaise": session.AmountPaise,
			},
			Version: 1,
		})
	})
	if err != nil {
		return "", err
	}
	if outcome != OutcomeReconciled {
		return outcome, nil
	}

	s.logger.Info(s.logger.WithField(ctx, "provider_ref", session.ProviderRef), "payment reconciled")

	if refundPaise > 0 {
		if err := s.refundCancelledShare(ctx, session.OrderGroupID, refundPaise, refundOrderIDs); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// refundCancelledShare pushes the cancelled orders' share of a settled charge
// back to the provider. It runs after the reconcile transaction commits, the
// same commit-then-refund ordering CancelWithRefund uses.
func (s *service) refundCancelledShare(ctx context.Context, groupID uuid.UUID, amountPaise int64, orderIDs []uuid.UUID) error {
	if err := s.RefundGroup(ctx, groupID, amountPaise); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, orderID := range orderIDs {
			if err := s.orders.SetPaymentStatus(ctx, tx, orderID,
				[]enums.PaymentStatus{enums.PaymentStatusUnpaid}, enums.PaymentStatusRefunded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) fail(ctx context.Context, session *models.PaymentSession) (Outcome, error) {
	outcome := OutcomeFailed
	err := s.db.Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.WithTx(tx).MarkFailed(ctx, session.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failing session")
		}
		if !won {
			outcome = OutcomeAlreadyReconciled
			return nil
		}

		group, err := s.orders.GetGroup(ctx, session.OrderGroupID)
		if err != nil {
			return err
		}
		for _, order := range group {
			// already cancelled while the charge was in flight; nothing left to undo
			if order.Status == enums.OrderStatusCancelled {
				continue
			}
			if _, err := s.orders.Cancel(ctx, tx, order.ID, "payment_failed", nil); err != nil {
				return err
			}
			if err := s.orders.SetPaymentStatus(ctx, tx, order.ID,
				[]enums.PaymentStatus{enums.PaymentStatusUnpaid}, enums.PaymentStatusFailed); err != nil {
				return err
			}
		}

		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateOrderGroup,
			AggregateID:   session.OrderGroupID,
			Data:          map[string]any{"providerRef": session.ProviderRef},
			Version:       1,
		})
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}
