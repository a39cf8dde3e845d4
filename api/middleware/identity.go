package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/api/responses"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
)

// Identity arrives from the API gateway as trusted headers; this service
// never authenticates, it only requires the header to be present and well
// formed.
const (
	customerIDHeader = "X-Customer-Id"
	sellerIDHeader   = "X-Seller-Id"
)

type contextKey string

const (
	ctxCustomerID contextKey = "customer_id"
	ctxSellerID   contextKey = "seller_id"
)

func RequireCustomer(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireIdentity(logg, customerIDHeader, func(ctx context.Context, id uuid.UUID) context.Context {
		if logg != nil {
			ctx = logg.WithCustomerID(ctx, id.String())
		}
		return WithCustomerID(ctx, id)
	})
}

func RequireSeller(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireIdentity(logg, sellerIDHeader, func(ctx context.Context, id uuid.UUID) context.Context {
		if logg != nil {
			ctx = logg.WithSellerID(ctx, id.String())
		}
		return WithSellerID(ctx, id)
	})
}

// WithCustomerID injects the customer identity directly, bypassing the
// header check.
func WithCustomerID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxCustomerID, id)
}

// WithSellerID injects the seller identity directly, bypassing the header
// check.
func WithSellerID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxSellerID, id)
}

func requireIdentity(logg *logger.Logger, header string, inject func(context.Context, uuid.UUID) context.Context) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(header)
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, header+" header required"))
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, header+" must be a uuid"))
				return
			}
			next.ServeHTTP(w, r.WithContext(inject(r.Context(), id)))
		})
	}
}

func CustomerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxCustomerID).(uuid.UUID)
	return id, ok
}

func SellerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxSellerID).(uuid.UUID)
	return id, ok
}
