package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/api/middleware"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logistics"
)

func sellerRequest(method, target string, body string, sellerID uuid.UUID) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.WithSellerID(req.Context(), sellerID))
}

func sellerOrderFixture(sellerID uuid.UUID) *models.Order {
	order := customerOrder(uuid.New())
	order.SellerID = sellerID
	return order
}

func TestSellerProcessOrderHidesForeignOrder(t *testing.T) {
	order := sellerOrderFixture(uuid.New())
	handler := SellerProcessOrder(&stubOrdersService{order: order}, testLogger())

	router := chi.NewRouter()
	router.Post("/api/v1/seller/orders/{orderId}/process", handler)

	req := sellerRequest(http.MethodPost, "/api/v1/seller/orders/"+order.ID.String()+"/process", "", uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestSellerProcessOrderMovesToProcessing(t *testing.T) {
	sellerID := uuid.New()
	order := sellerOrderFixture(sellerID)
	processed := *order
	processed.Status = enums.OrderStatusProcessing
	handler := SellerProcessOrder(&stubOrdersService{order: order, processed: &processed}, testLogger())

	router := chi.NewRouter()
	router.Post("/api/v1/seller/orders/{orderId}/process", handler)

	req := sellerRequest(http.MethodPost, "/api/v1/seller/orders/"+order.ID.String()+"/process", "", sellerID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data orderView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != string(enums.OrderStatusProcessing) {
		t.Fatalf("unexpected status: %s", envelope.Data.Status)
	}
}

func TestSellerShipOrderDefaultsToCheapestCarrier(t *testing.T) {
	sellerID := uuid.New()
	order := sellerOrderFixture(sellerID)
	carrierName := "SpeedPost"
	shipSvc := &stubShipmentsService{
		carriers: []logistics.Carrier{
			{CarrierID: "speedpost", CarrierName: carrierName, RatePaise: 4500, EstimatedDays: 3},
			{CarrierID: "bluedart", CarrierName: "BlueDart", RatePaise: 6200, EstimatedDays: 2},
		},
		shipment: &models.Shipment{
			ShipmentRef: "shp_001",
			Status:      enums.ShipmentStatusCourierAssigned,
			CarrierName: &carrierName,
		},
	}
	handler := SellerShipOrder(&stubOrdersService{order: order}, shipSvc, testLogger())

	router := chi.NewRouter()
	router.Post("/api/v1/seller/orders/{orderId}/ship", handler)

	req := sellerRequest(http.MethodPost, "/api/v1/seller/orders/"+order.ID.String()+"/ship", `{}`, sellerID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if shipSvc.assignedCarrierID != "speedpost" {
		t.Fatalf("expected first carrier assigned, got %s", shipSvc.assignedCarrierID)
	}
}

func TestSellerShipOrderRejectsUnserviceableCarrier(t *testing.T) {
	sellerID := uuid.New()
	order := sellerOrderFixture(sellerID)
	shipSvc := &stubShipmentsService{
		carriers: []logistics.Carrier{
			{CarrierID: "speedpost", CarrierName: "SpeedPost", RatePaise: 4500},
		},
	}
	handler := SellerShipOrder(&stubOrdersService{order: order}, shipSvc, testLogger())

	router := chi.NewRouter()
	router.Post("/api/v1/seller/orders/{orderId}/ship", handler)

	req := sellerRequest(http.MethodPost, "/api/v1/seller/orders/"+order.ID.String()+"/ship", `{"carrierId":"dhl"}`, sellerID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if shipSvc.assignedCarrierID != "" {
		t.Fatalf("no carrier should be assigned")
	}
}

func TestSellerShipmentLabelReturnsURL(t *testing.T) {
	sellerID := uuid.New()
	order := sellerOrderFixture(sellerID)
	shipSvc := &stubShipmentsService{
		shipment: &models.Shipment{ShipmentRef: "shp_001", Status: enums.ShipmentStatusPickupScheduled},
		label:    "https://carrier.example/labels/shp_001.pdf",
	}
	handler := SellerShipmentLabel(&stubOrdersService{order: order}, shipSvc, testLogger())

	router := chi.NewRouter()
	router.Get("/api/v1/seller/orders/{orderId}/label", handler)

	req := sellerRequest(http.MethodGet, "/api/v1/seller/orders/"+order.ID.String()+"/label", "", sellerID)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data["labelUrl"] != shipSvc.label {
		t.Fatalf("unexpected label url: %s", envelope.Data["labelUrl"])
	}
}
