package logistics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/config"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

var (
	errBaseURLRequired = errors.New("logistics base url is required")
	errAPIKeyRequired  = errors.New("logistics api key is required")
	errLoggerRequired  = errors.New("logistics logger is required")
)

// Carrier is one serviceable courier option for a pickup/destination pair.
type Carrier struct {
	CarrierID     string  `json:"carrierId"`
	CarrierName   string  `json:"carrierName"`
	RatePaise     int64   `json:"rate"`
	EstimatedDays int     `json:"estimatedDays"`
	Rating        float64 `json:"rating"`
}

// ServiceabilityParams queries couriers for one seller's pickup location.
type ServiceabilityParams struct {
	PickupAddress types.Address `json:"pickupAddress"`
	DestPincode   string        `json:"destPincode"`
	WeightGrams   int           `json:"weightGrams"`
}

// CreateShipmentParams registers an order with the aggregator.
type CreateShipmentParams struct {
	OrderNumber   string        `json:"orderNumber"`
	PickupAddress types.Address `json:"pickupAddress"`
	DestAddress   types.Address `json:"destAddress"`
	WeightGrams   int           `json:"weightGrams"`
	ValuePaise    int64         `json:"value"`
}

// AssignResult is the aggregator's response to a courier assignment.
type AssignResult struct {
	AWB             string `json:"awb"`
	PickupScheduled bool   `json:"pickupScheduled"`
}

// TrackingEvent is one entry of the aggregator's tracking history.
type TrackingEvent struct {
	Status     string    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// TrackResult is the aggregator's current view of a shipment.
type TrackResult struct {
	Status  string          `json:"status"`
	History []TrackingEvent `json:"history"`
}

// Client wraps the logistics aggregator REST API with auth, bounded
// timeouts, logging, and error mapping.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logger.Logger
}

// NewClient validates the credentials and builds the wrapper.
func NewClient(ctx context.Context, cfg config.LogisticsConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logg,
	}

	logg.Info(ctx, "logistics client initialized")
	return c, nil
}

// Serviceability lists couriers able to carry the parcel.
func (c *Client) Serviceability(ctx context.Context, params ServiceabilityParams) ([]Carrier, error) {
	if len(strings.TrimSpace(params.DestPincode)) != 6 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination pincode must be 6 digits")
	}
	c.log(ctx, "request", "serviceability", map[string]any{
		"dest_pincode": params.DestPincode,
		"weight_grams": params.WeightGrams,
	})

	var out struct {
		Carriers []Carrier `json:"carriers"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/serviceability", params, &out); err != nil {
		c.log(ctx, "error", "serviceability", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "serviceability", map[string]any{"carriers": len(out.Carriers)})
	return out.Carriers, nil
}

// CreateShipment registers the order and returns the aggregator reference.
func (c *Client) CreateShipment(ctx context.Context, params CreateShipmentParams) (string, error) {
	if params.OrderNumber == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	c.log(ctx, "request", "create_shipment", map[string]any{"order_number": params.OrderNumber})

	var out struct {
		ShipmentRef string `json:"shipmentRef"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/shipments", params, &out); err != nil {
		c.log(ctx, "error", "create_shipment", map[string]any{"error": err.Error()})
		return "", err
	}
	if out.ShipmentRef == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "aggregator returned empty shipment ref")
	}

	c.log(ctx, "response", "create_shipment", map[string]any{"shipment_ref": out.ShipmentRef})
	return out.ShipmentRef, nil
}

// AssignCourier picks a carrier for the shipment at the quoted rate.
func (c *Client) AssignCourier(ctx context.Context, shipmentRef, carrierID string, ratePaise int64) (*AssignResult, error) {
	if shipmentRef == "" || carrierID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment ref and carrier id required")
	}
	c.log(ctx, "request", "assign_courier", map[string]any{
		"shipment_ref": shipmentRef,
		"carrier_id":   carrierID,
	})

	body := map[string]any{"carrierId": carrierID, "rate": ratePaise}
	var out AssignResult
	if err := c.do(ctx, http.MethodPost, "/v1/shipments/"+shipmentRef+"/assign", body, &out); err != nil {
		c.log(ctx, "error", "assign_courier", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "assign_courier", map[string]any{
		"awb":              out.AWB,
		"pickup_scheduled": out.PickupScheduled,
	})
	return &out, nil
}

// SchedulePickup requests a pickup slot for an assigned shipment.
func (c *Client) SchedulePickup(ctx context.Context, shipmentRef string) error {
	if shipmentRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipment ref required")
	}
	c.log(ctx, "request", "schedule_pickup", map[string]any{"shipment_ref": shipmentRef})

	if err := c.do(ctx, http.MethodPost, "/v1/shipments/"+shipmentRef+"/pickup", nil, nil); err != nil {
		c.log(ctx, "error", "schedule_pickup", map[string]any{"error": err.Error()})
		return err
	}

	c.log(ctx, "response", "schedule_pickup", map[string]any{"shipment_ref": shipmentRef})
	return nil
}

// Track pulls the aggregator's current status and history.
func (c *Client) Track(ctx context.Context, shipmentRef string) (*TrackResult, error) {
	if shipmentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment ref required")
	}
	c.log(ctx, "request", "track", map[string]any{"shipment_ref": shipmentRef})

	var out TrackResult
	if err := c.do(ctx, http.MethodGet, "/v1/shipments/"+shipmentRef+"/track", nil, &out); err != nil {
		c.log(ctx, "error", "track", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "track", map[string]any{"status": out.Status})
	return &out, nil
}

// GetLabel returns the shipping label URL.
func (c *Client) GetLabel(ctx context.Context, shipmentRef string) (string, error) {
	if shipmentRef == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "shipment ref required")
	}

	var out struct {
		LabelURL string `json:"labelUrl"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/shipments/"+shipmentRef+"/label", nil, &out); err != nil {
		c.log(ctx, "error", "get_label", map[string]any{"error": err.Error()})
		return "", err
	}
	return out.LabelURL, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "logistics aggregator unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("aggregator responded %d", resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return pkgerrors.New(pkgerrors.CodeDependency, msg)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding aggregator response")
	}
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("logistics %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("logistics %s", phase))
	}
}
