package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/api/middleware"
	"github.com/lokalbazaar/lokalbazaar-backend/api/responses"
	"github.com/lokalbazaar/lokalbazaar-backend/api/validators"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/checkout"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/shipments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

type createOrderItem struct {
	ProductID      uuid.UUID            `json:"productId" validate:"required"`
	Quantity       int                  `json:"quantity" validate:"required,min=1"`
	Customizations types.Customizations `json:"customizations,omitempty"`
}

type createOrderRequest struct {
	Items           []createOrderItem `json:"items" validate:"required,min=1,dive"`
	ShippingAddress types.Address     `json:"shippingAddress" validate:"required"`
	CouponCode      string            `json:"couponCode,omitempty"`
}

type orderView struct {
	ID                uuid.UUID  `json:"id"`
	OrderNumber       string     `json:"orderNumber"`
	OrderGroupID      uuid.UUID  `json:"orderGroupId"`
	SellerID          uuid.UUID  `json:"sellerId"`
	Status            string     `json:"status"`
	PaymentStatus     string     `json:"paymentStatus"`
	ItemTotalPaise    int64      `json:"itemTotalPaise"`
	DiscountPaise     int64      `json:"discountPaise"`
	ShippingCostPaise int64      `json:"shippingCostPaise"`
	TotalAmountPaise  int64      `json:"totalAmountPaise"`
	CreatedAt         time.Time  `json:"createdAt"`
	ConfirmedAt       *time.Time `json:"confirmedAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
}

type checkoutResponse struct {
	OrderGroupID uuid.UUID   `json:"orderGroupId"`
	Orders       []orderView `json:"orders"`
	PaymentRef   string      `json:"paymentRef"`
	RedirectURL  string      `json:"redirectUrl"`
	Warnings     []string    `json:"warnings,omitempty"`
}

// CreateOrder is the checkout entry point: it lazily releases the customer's
// abandoned holds, then splits the cart into per-seller orders with one
// combined payment session.
func CreateOrder(checkoutSvc checkout.Service, ordersSvc orders.Service, abandonedAfter time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		customerID, ok := middleware.CustomerIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "customer identity required"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if _, err := ordersSvc.ReleaseAbandoned(ctx, customerID, time.Now().Add(-abandonedAfter)); err != nil {
			// abandoned holds stay for the sweeper; the checkout itself can proceed
			logg.Warn(ctx, "abandoned reservation release failed")
		}

		items := make([]checkout.ItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, checkout.ItemInput{
				ProductID:      item.ProductID,
				Quantity:       item.Quantity,
				Customizations: item.Customizations,
			})
		}

		result, err := checkoutSvc.Checkout(ctx, checkout.Request{
			CustomerID:      customerID,
			Items:           items,
			ShippingAddress: req.ShippingAddress,
			CouponCode:      req.CouponCode,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := checkoutResponse{
			OrderGroupID: result.Group.ID,
			Orders:       orderViews(result.Orders),
			Warnings:     result.Warnings,
			RedirectURL:  result.Redirect,
		}
		if result.Session != nil {
			resp.PaymentRef = result.Session.ProviderRef
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

type verifyPaymentRequest struct {
	OrderID    *uuid.UUID `json:"orderId,omitempty"`
	PaymentRef string     `json:"paymentRef,omitempty"`
}

// VerifyPayment reconciles a payment session against the provider on the
// customer's return from the gateway. The session is addressed either by the
// provider's reference or by any order it covers.
func VerifyPayment(paySvc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if req.OrderID == nil && req.PaymentRef == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "orderId or paymentRef required"))
			return
		}

		var (
			outcome payments.Outcome
			err     error
		)
		if req.OrderID != nil {
			outcome, err = paySvc.VerifyOrder(ctx, *req.OrderID)
		} else {
			outcome, err = paySvc.Verify(ctx, req.PaymentRef)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"outcome": outcome})
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelOrder cancels the customer's own order, refunding it when already
// paid.
func CancelOrder(ordersSvc orders.Service, paySvc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		customerID, _ := middleware.CustomerIDFromContext(ctx)

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = "customer_request"
		}

		order, err := ordersSvc.Get(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if order.CustomerID != customerID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		cancelled, err := paySvc.CancelWithRefund(ctx, orderID, reason, &outbox.ActorRef{CustomerID: &customerID, Role: "customer"})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderView(cancelled))
	}
}

type shipmentEventView struct {
	Status     string    `json:"status"`
	Note       *string   `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type shipmentView struct {
	ShipmentRef string              `json:"shipmentRef"`
	Status      string              `json:"status"`
	CarrierName *string             `json:"carrierName,omitempty"`
	AWB         *string             `json:"awb,omitempty"`
	Events      []shipmentEventView `json:"events"`
}

type trackingResponse struct {
	Order    orderView           `json:"order"`
	Tracking *types.TrackingInfo `json:"tracking,omitempty"`
	Shipment *shipmentView       `json:"shipment,omitempty"`
}

// OrderTracking returns the order status with its shipment history, if a
// shipment exists yet.
func OrderTracking(ordersSvc orders.Service, shipSvc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		customerID, _ := middleware.CustomerIDFromContext(ctx)

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := ordersSvc.Get(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if order.CustomerID != customerID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		resp := trackingResponse{Order: *newOrderView(order), Tracking: order.TrackingInfo}

		shipment, err := shipSvc.GetByOrder(ctx, orderID)
		if err != nil {
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		} else {
			resp.Shipment = newShipmentView(shipment)
		}
		responses.WriteSuccess(w, resp)
	}
}

// ListOrders pages the customer's own orders.
func ListOrders(ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		customerID, _ := middleware.CustomerIDFromContext(ctx)

		limit, offset, err := parsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		list, err := ordersSvc.ListForCustomer(ctx, customerID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, orderViews(list))
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "orderId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId must be a uuid")
	}
	return id, nil
}

func parsePage(r *http.Request) (limit, offset int, err error) {
	limit, err = validators.ParseQueryInt(r, "limit", 20, 1, 100)
	if err != nil {
		return 0, 0, err
	}
	offset, err = validators.ParseQueryInt(r, "offset", 0, 0, 100000)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func orderViews(list []models.Order) []orderView {
	views := make([]orderView, 0, len(list))
	for i := range list {
		views = append(views, *newOrderView(&list[i]))
	}
	return views
}

func newOrderView(order *models.Order) *orderView {
	return &orderView{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		OrderGroupID:      order.OrderGroupID,
		SellerID:          order.SellerID,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		ItemTotalPaise:    order.ItemTotalPaise,
		DiscountPaise:     order.DiscountPaise,
		ShippingCostPaise: order.ShippingCostPaise,
		TotalAmountPaise:  order.TotalAmountPaise,
		CreatedAt:         order.CreatedAt,
		ConfirmedAt:       order.ConfirmedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
	}
}

func newShipmentView(shipment *models.Shipment) *shipmentView {
	view := &shipmentView{
		ShipmentRef: shipment.ShipmentRef,
		Status:      string(shipment.Status),
		CarrierName: shipment.CarrierName,
		AWB:         shipment.AWB,
		Events:      make([]shipmentEventView, 0, len(shipment.Events)),
	}
	for _, event := range shipment.Events {
		view.Events = append(view.Events, shipmentEventView{
			Status:     string(event.Status),
			Note:       event.Note,
			OccurredAt: event.OccurredAt,
		})
	}
	return view
}
