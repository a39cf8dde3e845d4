package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lokalbazaar/lokalbazaar-backend/api/responses"
	internalpayments "github.com/lokalbazaar/lokalbazaar-backend/internal/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/shipments"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
)

const signatureHeader = "X-Webhook-Signature"

type signingSecretProvider interface {
	SigningSecret() string
}

type paymentWebhookPayload struct {
	SessionID string                  `json:"sessionId"`
	Status    payments.ProviderStatus `json:"status"`
}

// PaymentWebhook applies a provider-pushed session outcome. It goes through
// the same compare-and-swap reconciliation as the synchronous verify, so
// replays are no-ops.
func PaymentWebhook(paySvc internalpayments.Service, secrets signingSecretProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if secret := secrets.SigningSecret(); secret != "" {
			if !verifySignature(body, r.Header.Get(signatureHeader), secret) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid webhook signature"))
				return
			}
		}

		var payload paymentWebhookPayload
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		if payload.SessionID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sessionId required"))
			return
		}

		outcome, err := paySvc.ApplyProviderStatus(ctx, payload.SessionID, payload.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"outcome": outcome})
	}
}

type trackingWebhookPayload struct {
	ShipmentRef string    `json:"shipmentRef"`
	Status      string    `json:"status"`
	Note        string    `json:"note,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// TrackingWebhook ingests one aggregator tracking event. Stale or replayed
// events report applied=false and change nothing.
func TrackingWebhook(shipSvc shipments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload trackingWebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		if payload.ShipmentRef == "" || payload.Status == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "shipmentRef and status required"))
			return
		}
		if payload.OccurredAt.IsZero() {
			payload.OccurredAt = time.Now()
		}

		applied, err := shipSvc.IngestTrackingEvent(ctx, payload.ShipmentRef, shipments.TrackingEventInput{
			Status:     payload.Status,
			Note:       payload.Note,
			OccurredAt: payload.OccurredAt,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"applied": applied})
	}
}

func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
