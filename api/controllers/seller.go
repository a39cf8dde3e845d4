package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/api/middleware"
	"github.com/lokalbazaar/lokalbazaar-backend/api/responses"
	"github.com/lokalbazaar/lokalbazaar-backend/api/validators"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/shipments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
)

// SellerListOrders pages the seller's own orders.
func SellerListOrders(ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sellerID, _ := middleware.SellerIDFromContext(ctx)

		limit, offset, err := parsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		list, err := ordersSvc.ListForSeller(ctx, sellerID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, orderViews(list))
	}
}

// SellerProcessOrder moves a confirmed order into fulfilment.
func SellerProcessOrder(ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sellerID, _ := middleware.SellerIDFromContext(ctx)

		order, err := sellerOrder(r, ordersSvc, sellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		updated, err := ordersSvc.MarkProcessing(ctx, order.ID, &outbox.ActorRef{SellerID: &sellerID, Role: "seller"})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderView(updated))
	}
}

type shipOrderRequest struct {
	CarrierID string `json:"carrierId,omitempty"`
}

// SellerShipOrder runs the full handoff: serviceability check, shipment
// creation, courier assignment. Without an explicit carrierId the cheapest
// serviceable courier wins.
func SellerShipOrder(ordersSvc orders.Service, shipSvc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sellerID, _ := middleware.SellerIDFromContext(ctx)

		order, err := sellerOrder(r, ordersSvc, sellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req shipOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		candidates, err := shipSvc.CheckServiceability(ctx, order.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		chosen := candidates[0]
		if req.CarrierID != "" {
			found := false
			for _, candidate := range candidates {
				if candidate.CarrierID == req.CarrierID {
					chosen = candidate
					found = true
					break
				}
			}
			if !found {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "carrier is not serviceable for this order").
					WithDetails(map[string]any{"carrierId": req.CarrierID}))
				return
			}
		}

		actor := &outbox.ActorRef{SellerID: &sellerID, Role: "seller"}
		shipment, err := shipSvc.CreateShipment(ctx, order.ID, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		shipment, err = shipSvc.AssignCourier(ctx, shipment.ShipmentRef, chosen.CarrierID, chosen.CarrierName, chosen.RatePaise, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newShipmentView(shipment))
	}
}

// SellerSchedulePickup requests a pickup slot when assignment did not
// schedule one automatically.
func SellerSchedulePickup(ordersSvc orders.Service, shipSvc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sellerID, _ := middleware.SellerIDFromContext(ctx)

		shipment, err := sellerShipment(r, ordersSvc, shipSvc, sellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		updated, err := shipSvc.SchedulePickup(ctx, shipment.ShipmentRef, &outbox.ActorRef{SellerID: &sellerID, Role: "seller"})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newShipmentView(updated))
	}
}

// SellerShipmentLabel returns the carrier label URL for a shipment.
func SellerShipmentLabel(ordersSvc orders.Service, shipSvc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sellerID, _ := middleware.SellerIDFromContext(ctx)

		shipment, err := sellerShipment(r, ordersSvc, shipSvc, sellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		labelURL, err := shipSvc.GetLabel(ctx, shipment.ShipmentRef)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"labelUrl": labelURL})
	}
}

// sellerOrder loads the order and hides it when the seller does not own it.
func sellerOrder(r *http.Request, ordersSvc orders.Service, sellerID uuid.UUID) (*models.Order, error) {
	orderID, err := parseOrderID(r)
	if err != nil {
		return nil, err
	}
	order, err := ordersSvc.Get(r.Context(), orderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func sellerShipment(r *http.Request, ordersSvc orders.Service, shipSvc shipments.Service, sellerID uuid.UUID) (*models.Shipment, error) {
	order, err := sellerOrder(r, ordersSvc, sellerID)
	if err != nil {
		return nil, err
	}
	return shipSvc.GetByOrder(r.Context(), order.ID)
}
