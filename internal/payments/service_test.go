package payments

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/inventory"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
)

type stubProvider struct {
	status  payments.ProviderStatus
	calls   int
	refunds []int64
}

func (s *stubProvider) GetStatus(context.Context, string) (*payments.SessionStatus, error) {
	s.calls++
	return &payments.SessionStatus{Status: s.status, TransactionID: "txn_1"}, nil
}

func (s *stubProvider) Refund(_ context.Context, _ string, amountPaise int64) error {
	s.refunds = append(s.refunds, amountPaise)
	return nil
}

type fixture struct {
	db        *gorm.DB
	svc       Service
	provider  *stubProvider
	groupID   uuid.UUID
	orderID   uuid.UUID
	productID uuid.UUID
	ref       string
}

func TestVerifyCompletedConfirmsAndCommits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusCompleted)

	outcome, err := f.svc.Verify(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome != OutcomeReconciled {
		t.Fatalf("expected reconciled, got %s", outcome)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusConfirmed || order.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("order not reconciled: status=%s payment=%s", order.Status, order.PaymentStatus)
	}

	var item models.InventoryItem
	if err := f.db.First(&item, "product_id = ?", f.productID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if item.ReservedQty != 0 || item.AvailableQty != 4 {
		t.Fatalf("reservation not committed: %+v", item)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusCompleted)

	if _, err := f.svc.Verify(context.Background(), f.ref); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	outcome, err := f.svc.Verify(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if outcome != OutcomeAlreadyReconciled {
		t.Fatalf("expected already reconciled, got %s", outcome)
	}

	// the second call must not even reach the provider
	if f.provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", f.provider.calls)
	}

	var count int64
	f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPaymentReconciled).
		Count(&count)
	if count != 1 {
		t.Fatalf("expected one reconciled event, got %d", count)
	}
}

func TestVerifyFailedCancelsAndReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusFailed)

	outcome, err := f.svc.Verify(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusCancelled || order.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("order not cancelled: status=%s payment=%s", order.Status, order.PaymentStatus)
	}

	var item models.InventoryItem
	if err := f.db.First(&item, "product_id = ?", f.productID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if item.AvailableQty != 5 || item.ReservedQty != 0 {
		t.Fatalf("stock not released: %+v", item)
	}
}

func TestVerifyPendingLeavesOrderUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusPending)

	outcome, err := f.svc.Verify(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome != OutcomeNotCompleted {
		t.Fatalf("expected not completed, got %s", outcome)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusUnpaid {
		t.Fatalf("pending verification mutated the order: %+v", order)
	}
}

func TestVerifyCompletedRefundsOrderCancelledInFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusCompleted)

	// second order in the same group, still pending when the charge settles
	otherOrderID := uuid.New()
	otherProductID := uuid.New()
	if err := f.db.Create(&models.Order{
		ID:               otherOrderID,
		OrderNumber:      "LB-20250901-000002",
		OrderGroupID:     f.groupID,
		CustomerID:       uuid.New(),
		SellerID:         uuid.New(),
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusUnpaid,
		ItemTotalPaise:   40000,
		TotalAmountPaise: 40000,
	}).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := f.db.Create(&models.InventoryItem{ProductID: otherProductID, AvailableQty: 3}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	invSvc, err := inventory.NewService(inventory.NewRepository(f.db))
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	if err := f.db.Transaction(func(tx *gorm.DB) error {
		return invSvc.Reserve(context.Background(), tx, otherOrderID, []inventory.Line{{ProductID: otherProductID, Qty: 1}})
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// the customer cancels the first order while the charge is in flight
	if _, err := f.svc.CancelWithRefund(context.Background(), f.orderID, "customer_request", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	outcome, err := f.svc.Verify(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if outcome != OutcomeReconciled {
		t.Fatalf("expected reconciled, got %s", outcome)
	}

	// the surviving order confirms and commits its stock
	var other models.Order
	if err := f.db.First(&other, "id = ?", otherOrderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if other.Status != enums.OrderStatusConfirmed || other.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("surviving order not reconciled: status=%s payment=%s", other.Status, other.PaymentStatus)
	}

	// the cancelled order keeps its cancellation and its share is refunded
	var cancelled models.Order
	if err := f.db.First(&cancelled, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled || cancelled.PaymentStatus != enums.PaymentStatusRefunded {
		t.Fatalf("cancelled order not refunded: status=%s payment=%s", cancelled.Status, cancelled.PaymentStatus)
	}
	if len(f.provider.refunds) != 1 || f.provider.refunds[0] != cancelled.TotalAmountPaise {
		t.Fatalf("refund not forwarded for the cancelled share: %v", f.provider.refunds)
	}

	// the session settles, so a retry is a no-op rather than a wedge
	outcome, err = f.svc.Verify(context.Background(), f.ref)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if outcome != OutcomeAlreadyReconciled {
		t.Fatalf("expected already reconciled, got %s", outcome)
	}
}

func TestVerifyOrderResolvesGroupSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusCompleted)

	outcome, err := f.svc.VerifyOrder(context.Background(), f.orderID)
	if err != nil {
		t.Fatalf("verify by order: %v", err)
	}
	if outcome != OutcomeReconciled {
		t.Fatalf("expected reconciled, got %s", outcome)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusConfirmed {
		t.Fatalf("order not confirmed: %s", order.Status)
	}

	_, err = f.svc.VerifyOrder(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for unknown order, got %v", err)
	}
}

func TestVerifyUnknownReference(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusCompleted)

	_, err := f.svc.Verify(context.Background(), "sess_unknown")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefundGroupRequiresSettledSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, payments.StatusCompleted)

	err := f.svc.RefundGroup(context.Background(), f.groupID, 100000)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict on unsettled session, got %v", err)
	}

	if _, err := f.svc.Verify(context.Background(), f.ref); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.svc.RefundGroup(context.Background(), f.groupID, 100000); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if len(f.provider.refunds) != 1 || f.provider.refunds[0] != 100000 {
		t.Fatalf("refund not forwarded: %v", f.provider.refunds)
	}
}

func newFixture(t *testing.T, status payments.ProviderStatus) *fixture {
	t.Helper()

	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})

	invSvc, err := inventory.NewService(inventory.NewRepository(db))
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	events := outbox.NewService(outbox.NewRepository(db), logg)
	orderSvc, err := orders.NewService(db, orders.NewRepository(db), invSvc, events, logg)
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}

	prov := &stubProvider{status: status}
	svc, err := NewService(db, NewRepository(db), orderSvc, invSvc, prov, events, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	f := &fixture{
		db:        db,
		svc:       svc,
		provider:  prov,
		groupID:   uuid.New(),
		orderID:   uuid.New(),
		productID: uuid.New(),
		ref:       "sess_" + uuid.NewString()[:8],
	}

	if err := db.Create(&models.OrderGroup{
		ID:            f.groupID,
		CustomerID:    uuid.New(),
		CartHash:      "hash",
		SubtotalPaise: 100000,
		TotalPaise:    100000,
	}).Error; err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := db.Create(&models.Order{
		ID:               f.orderID,
		OrderNumber:      "LB-20250901-000001",
		OrderGroupID:     f.groupID,
		CustomerID:       uuid.New(),
		SellerID:         uuid.New(),
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusUnpaid,
		ItemTotalPaise:   100000,
		TotalAmountPaise: 100000,
	}).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := db.Create(&models.PaymentSession{
		ID:           uuid.New(),
		OrderGroupID: f.groupID,
		ProviderRef:  f.ref,
		AmountPaise:  100000,
		Status:       enums.PaymentSessionStatusCreated,
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := db.Create(&models.InventoryItem{ProductID: f.productID, AvailableQty: 5}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return invSvc.Reserve(context.Background(), tx, f.orderID, []inventory.Line{{ProductID: f.productID, Qty: 1}})
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return f
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.OrderGroup{},
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentSession{},
		&models.InventoryItem{},
		&models.InventoryReservation{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate payments: %v", err)
	}
	return db
}
