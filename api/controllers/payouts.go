package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/api/responses"
	"github.com/lokalbazaar/lokalbazaar-backend/api/validators"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/payouts"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
)

type calculatePayoutsRequest struct {
	PeriodStart time.Time `json:"periodStart" validate:"required"`
	PeriodEnd   time.Time `json:"periodEnd" validate:"required"`
	PeriodLabel string    `json:"periodLabel,omitempty"`
}

type payoutView struct {
	ID                       uuid.UUID  `json:"id"`
	SellerID                 uuid.UUID  `json:"sellerId"`
	PeriodLabel              string     `json:"periodLabel"`
	Status                   string     `json:"status"`
	HoldReason               *string    `json:"holdReason,omitempty"`
	OrderCount               int        `json:"orderCount"`
	TotalSalesPaise          int64      `json:"totalSalesPaise"`
	CommissionDeductedPaise  int64      `json:"commissionDeductedPaise"`
	GatewayFeesDeductedPaise int64      `json:"gatewayFeesDeductedPaise"`
	ShippingDeductedPaise    int64      `json:"shippingDeductedPaise"`
	NetPayoutPaise           int64      `json:"netPayoutPaise"`
	TransactionID            *string    `json:"transactionId,omitempty"`
	PaidAt                   *time.Time `json:"paidAt,omitempty"`
}

// CalculatePayouts runs the settlement batch for an explicit window.
func CalculatePayouts(payoutSvc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req calculatePayoutsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		created, err := payoutSvc.Calculate(ctx, req.PeriodStart, req.PeriodEnd, req.PeriodLabel)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutViews(created))
	}
}

type markPayoutPaidRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
}

// MarkPayoutPaid settles a pending payout with the bank transaction id.
func MarkPayoutPaid(payoutSvc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payoutID, err := uuid.Parse(chi.URLParam(r, "payoutId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payoutId must be a uuid"))
			return
		}

		var req markPayoutPaidRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		paid, err := payoutSvc.MarkPaid(ctx, payoutID, req.TransactionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPayoutView(paid))
	}
}

// ListPayouts pages payouts, optionally filtered by seller.
func ListPayouts(payoutSvc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, offset, err := parsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var sellerID *uuid.UUID
		if raw := strings.TrimSpace(r.URL.Query().Get("sellerId")); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sellerId must be a uuid"))
				return
			}
			sellerID = &id
		}

		list, err := payoutSvc.List(ctx, sellerID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, payoutViews(list))
	}
}

func payoutViews(list []models.Payout) []payoutView {
	views := make([]payoutView, 0, len(list))
	for i := range list {
		views = append(views, *newPayoutView(&list[i]))
	}
	return views
}

func newPayoutView(payout *models.Payout) *payoutView {
	return &payoutView{
		ID:                       payout.ID,
		SellerID:                 payout.SellerID,
		PeriodLabel:              payout.PeriodLabel,
		Status:                   string(payout.Status),
		HoldReason:               payout.HoldReason,
		OrderCount:               payout.OrderCount,
		TotalSalesPaise:          payout.TotalSalesPaise,
		CommissionDeductedPaise:  payout.CommissionDeductedPaise,
		GatewayFeesDeductedPaise: payout.GatewayFeesDeductedPaise,
		ShippingDeductedPaise:    payout.ShippingDeductedPaise,
		NetPayoutPaise:           payout.NetPayoutPaise,
		TransactionID:            payout.TransactionID,
		PaidAt:                   payout.PaidAt,
	}
}
