package logistics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/config"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled})
	client, err := NewClient(context.Background(), config.LogisticsConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, logg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func pickupAddr() types.Address {
	return types.Address{
		Name:    "Warehouse",
		Line1:   "14 MG Road",
		City:    "Bengaluru",
		State:   "KA",
		Pincode: "560001",
		Country: "IN",
	}
}

func TestServiceability(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/serviceability" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"carriers":[{"carrierId":"dlv","carrierName":"Delhivery","rate":5500,"estimatedDays":3,"rating":4.2}]}`))
	}))

	carriers, err := client.Serviceability(context.Background(), ServiceabilityParams{
		PickupAddress: pickupAddr(),
		DestPincode:   "110001",
		WeightGrams:   500,
	})
	if err != nil {
		t.Fatalf("Serviceability: %v", err)
	}
	if len(carriers) != 1 || carriers[0].CarrierID != "dlv" {
		t.Fatalf("unexpected carriers %+v", carriers)
	}
}

func TestServiceabilityRejectsBadPincode(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("aggregator should not be called")
	}))

	_, err := client.Serviceability(context.Background(), ServiceabilityParams{DestPincode: "1234"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAssignCourier(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/shipments/shp_1/assign" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"awb":"AWB123","pickupScheduled":true}`))
	}))

	result, err := client.AssignCourier(context.Background(), "shp_1", "dlv", 5500)
	if err != nil {
		t.Fatalf("AssignCourier: %v", err)
	}
	if result.AWB != "AWB123" || !result.PickupScheduled {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAggregatorOutageMapsToDependency(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.Track(context.Background(), "shp_1")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
