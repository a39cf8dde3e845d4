package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/api/middleware"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/checkout"
	internalpayments "github.com/lokalbazaar/lokalbazaar-backend/internal/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/shipments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logistics"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "api-test", Output: io.Discard})
}

type stubOrdersService struct {
	order      *models.Order
	getErr     error
	list       []models.Order
	processed  *models.Order
	processErr error
	released   int
}

func (s *stubOrdersService) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.order, s.getErr
}

func (s *stubOrdersService) GetGroup(ctx context.Context, groupID uuid.UUID) ([]models.Order, error) {
	return s.list, nil
}

func (s *stubOrdersService) ListForCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	return s.list, nil
}

func (s *stubOrdersService) ListForSeller(ctx context.Context, sellerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	return s.list, nil
}

func (s *stubOrdersService) Transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.OrderStatus, actor *outbox.ActorRef) (*models.Order, error) {
	return s.order, nil
}

func (s *stubOrdersService) MarkProcessing(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error) {
	return s.processed, s.processErr
}

func (s *stubOrdersService) Cancel(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string, actor *outbox.ActorRef) (*models.Order, error) {
	return s.order, nil
}

func (s *stubOrdersService) SetPaymentStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) error {
	return nil
}

func (s *stubOrdersService) ReleaseAbandoned(ctx context.Context, customerID uuid.UUID, cutoff time.Time) (int, error) {
	return s.released, nil
}

type stubPaymentsService struct {
	outcome      internalpayments.Outcome
	err          error
	cancelled    *models.Order
	cancelErr    error
	cancelReason string
	verifiedRef  string
	verifiedID   uuid.UUID
}

func (s *stubPaymentsService) Verify(ctx context.Context, providerRef string) (internalpayments.Outcome, error) {
	s.verifiedRef = providerRef
	return s.outcome, s.err
}

func (s *stubPaymentsService) VerifyOrder(ctx context.Context, orderID uuid.UUID) (internalpayments.Outcome, error) {
	s.verifiedID = orderID
	return s.outcome, s.err
}

func (s *stubPaymentsService) ApplyProviderStatus(ctx context.Context, providerRef string, status payments.ProviderStatus) (internalpayments.Outcome, error) {
	s.verifiedRef = providerRef
	return s.outcome, s.err
}

func (s *stubPaymentsService) RefundGroup(ctx context.Context, groupID uuid.UUID, amountPaise int64) error {
	return nil
}

func (s *stubPaymentsService) CancelWithRefund(ctx context.Context, orderID uuid.UUID, reason string, actor *outbox.ActorRef) (*models.Order, error) {
	s.cancelReason = reason
	return s.cancelled, s.cancelErr
}

type stubShipmentsService struct {
	carriers          []logistics.Carrier
	carriersErr       error
	shipment          *models.Shipment
	shipmentErr       error
	assignedCarrierID string
	applied           bool
	appliedEvent      shipments.TrackingEventInput
	label             string
}

func (s *stubShipmentsService) CheckServiceability(ctx context.Context, orderID uuid.UUID) ([]logistics.Carrier, error) {
	return s.carriers, s.carriersErr
}

func (s *stubShipmentsService) CreateShipment(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Shipment, error) {
	return s.shipment, s.shipmentErr
}

func (s *stubShipmentsService) AssignCourier(ctx context.Context, shipmentRef, carrierID, carrierName string, ratePaise int64, actor *outbox.ActorRef) (*models.Shipment, error) {
	s.assignedCarrierID = carrierID
	return s.shipment, nil
}

func (s *stubShipmentsService) SchedulePickup(ctx context.Context, shipmentRef string, actor *outbox.ActorRef) (*models.Shipment, error) {
	return s.shipment, nil
}

func (s *stubShipmentsService) IngestTrackingEvent(ctx context.Context, shipmentRef string, event shipments.TrackingEventInput) (bool, error) {
	s.appliedEvent = event
	return s.applied, nil
}

func (s *stubShipmentsService) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	return s.shipment, s.shipmentErr
}

func (s *stubShipmentsService) GetLabel(ctx context.Context, shipmentRef string) (string, error) {
	return s.label, nil
}

type stubCheckoutService struct {
	result *checkout.Result
	err    error
	req    checkout.Request
}

func (s *stubCheckoutService) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	s.req = req
	return s.result, s.err
}

func customerRequest(method, target string, body string, customerID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithCustomerID(req.Context(), customerID))
}

func customerOrder(customerID uuid.UUID) *models.Order {
	return &models.Order{
		ID:               uuid.New(),
		OrderNumber:      "ORD-20260829-000042",
		OrderGroupID:     uuid.New(),
		CustomerID:       customerID,
		SellerID:         uuid.New(),
		Status:           enums.OrderStatusConfirmed,
		PaymentStatus:    enums.PaymentStatusPaid,
		ItemTotalPaise:   150000,
		TotalAmountPaise: 155000,
	}
}

func TestCreateOrderReturnsCheckoutResult(t *testing.T) {
	customerID := uuid.New()
	order := customerOrder(customerID)
	checkoutSvc := &stubCheckoutService{
		result: &checkout.Result{
			Group:    &models.OrderGroup{ID: order.OrderGroupID},
			Orders:   []models.Order{*order},
			Session:  &models.PaymentSession{ProviderRef: "pay_abc123"},
			Redirect: "https://pay.example/session/pay_abc123",
			Warnings: []string{"coupon expired, proceeding without discount"},
		},
	}
	handler := CreateOrder(checkoutSvc, &stubOrdersService{}, 45*time.Minute, testLogger())

	body := `{"items":[{"productId":"` + uuid.NewString() + `","quantity":2}],"shippingAddress":{"line1":"12 MG Road","city":"Bengaluru","state":"KA","pincode":"560001"}}`
	req := customerRequest(http.MethodPost, "/api/v1/orders", body, customerID)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data checkoutResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.PaymentRef != "pay_abc123" {
		t.Fatalf("unexpected payment ref: %s", envelope.Data.PaymentRef)
	}
	if len(envelope.Data.Orders) != 1 || envelope.Data.Orders[0].OrderNumber != order.OrderNumber {
		t.Fatalf("unexpected orders in response: %+v", envelope.Data.Orders)
	}
	if len(envelope.Data.Warnings) != 1 {
		t.Fatalf("expected checkout warning to pass through")
	}
	if checkoutSvc.req.CustomerID != customerID {
		t.Fatalf("checkout request missing customer id")
	}
}

func TestCreateOrderRejectsEmptyItems(t *testing.T) {
	handler := CreateOrder(&stubCheckoutService{}, &stubOrdersService{}, 45*time.Minute, testLogger())

	body := `{"items":[],"shippingAddress":{"line1":"12 MG Road","city":"Bengaluru","state":"KA","pincode":"560001"}}`
	req := customerRequest(http.MethodPost, "/api/v1/orders", body, uuid.New())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestVerifyPaymentReturnsOutcome(t *testing.T) {
	paySvc := &stubPaymentsService{outcome: internalpayments.OutcomeReconciled}
	handler := VerifyPayment(paySvc, testLogger())

	req := customerRequest(http.MethodPost, "/api/v1/orders/verify-payment", `{"paymentRef":"pay_abc123"}`, uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if paySvc.verifiedRef != "pay_abc123" {
		t.Fatalf("unexpected verified ref: %s", paySvc.verifiedRef)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data["outcome"] != string(internalpayments.OutcomeReconciled) {
		t.Fatalf("unexpected outcome: %s", envelope.Data["outcome"])
	}
}

func TestVerifyPaymentAcceptsOrderID(t *testing.T) {
	orderID := uuid.New()
	paySvc := &stubPaymentsService{outcome: internalpayments.OutcomeReconciled}
	handler := VerifyPayment(paySvc, testLogger())

	req := customerRequest(http.MethodPost, "/api/v1/orders/verify-payment", `{"orderId":"`+orderID.String()+`"}`, uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if paySvc.verifiedID != orderID {
		t.Fatalf("order id not forwarded: %s", paySvc.verifiedID)
	}
	if paySvc.verifiedRef != "" {
		t.Fatalf("ref path should not run when orderId is given")
	}
}

func TestVerifyPaymentRequiresOrderOrRef(t *testing.T) {
	handler := VerifyPayment(&stubPaymentsService{}, testLogger())

	req := customerRequest(http.MethodPost, "/api/v1/orders/verify-payment", `{}`, uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCancelOrderHidesForeignOrder(t *testing.T) {
	order := customerOrder(uuid.New())
	ordersSvc := &stubOrdersService{order: order}
	handler := CancelOrder(ordersSvc, &stubPaymentsService{}, testLogger())

	router := chi.NewRouter()
	router.Post("/api/v1/orders/{orderId}/cancel", handler)

	req := customerRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", `{}`, uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestCancelOrderDefaultsReason(t *testing.T) {
	customerID := uuid.New()
	order := customerOrder(customerID)
	cancelled := *order
	cancelled.Status = enums.OrderStatusCancelled
	paySvc := &stubPaymentsService{cancelled: &cancelled}
	handler := CancelOrder(&stubOrdersService{order: order}, paySvc, testLogger())

	router := chi.NewRouter()
	router.Post("/api/v1/orders/{orderId}/cancel", handler)

	req := customerRequest(http.MethodPost, "/api/v1/orders/"+order.ID.String()+"/cancel", `{}`, customerID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if paySvc.cancelReason != "customer_request" {
		t.Fatalf("unexpected cancel reason: %s", paySvc.cancelReason)
	}
}

func TestOrderTrackingToleratesMissingShipment(t *testing.T) {
	customerID := uuid.New()
	order := customerOrder(customerID)
	shipSvc := &stubShipmentsService{shipmentErr: pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")}
	handler := OrderTracking(&stubOrdersService{order: order}, shipSvc, testLogger())

	router := chi.NewRouter()
	router.Get("/api/v1/orders/{orderId}/tracking", handler)

	req := customerRequest(http.MethodGet, "/api/v1/orders/"+order.ID.String()+"/tracking", "", customerID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data trackingResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Shipment != nil {
		t.Fatalf("expected no shipment in response")
	}
	if envelope.Data.Order.ID != order.ID {
		t.Fatalf("unexpected order in response: %s", envelope.Data.Order.ID)
	}
}

func TestListOrdersRejectsBadLimit(t *testing.T) {
	handler := ListOrders(&stubOrdersService{}, testLogger())

	req := customerRequest(http.MethodGet, "/api/v1/orders?limit=0", "", uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
