package rates

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/catalog"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logistics"
)

// aggregator is the slice of the logistics client the estimator needs.
type aggregator interface {
	Serviceability(ctx context.Context, params logistics.ServiceabilityParams) ([]logistics.Carrier, error)
}

// Group is one seller's share of a cart, weighed for serviceability.
type Group struct {
	SellerID    uuid.UUID
	ProductIDs  []uuid.UUID
	WeightGrams int
}

// Estimate is the ranked courier quote for one seller group. Candidates are
// empty when the aggregator could not quote the lane; checkout treats that as
// zero shipping cost plus a warning, never as a hard failure.
type Estimate struct {
	SellerID       uuid.UUID
	ShippingPaidBy enums.ShippingPayer
	Candidates     []logistics.Carrier
	Failed         bool
}

// CostPaise is the customer-facing shipping charge for the group: the
// cheapest candidate when the customer pays, zero when the seller absorbs
// shipping or no courier quoted.
func (e *Estimate) CostPaise() int64 {
	if len(e.Candidates) == 0 || e.ShippingPaidBy == enums.ShippingPayerSeller {
		return 0
	}
	return e.Candidates[0].RatePaise
}

// ActualCostPaise is the cheapest quoted rate regardless of who pays. It is
// what the seller is debited when shipping is seller-paid.
func (e *Estimate) ActualCostPaise() int64 {
	if len(e.Candidates) == 0 {
		return 0
	}
	return e.Candidates[0].RatePaise
}

// Service quotes shipping per seller group of a cart.
type Service interface {
	Estimate(ctx context.Context, groups []Group, destPincode string) (map[uuid.UUID]*Estimate, error)
}

type service struct {
	catalog    catalog.Repository
	aggregator aggregator
	logger     *logger.Logger
}

// NewService builds the shipping rate estimator.
func NewService(catalogRepo catalog.Repository, agg aggregator, logg *logger.Logger) (Service, error) {
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if agg == nil {
		return nil, fmt.Errorf("logistics aggregator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{catalog: catalogRepo, aggregator: agg, logger: logg}, nil
}

// Estimate quotes each seller group independently. An aggregator failure on
// one lane marks that group's estimate as failed and leaves the others
// untouched.
func (s *service) Estimate(ctx context.Context, groups []Group, destPincode string) (map[uuid.UUID]*Estimate, error) {
	if len(groups) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one seller group required")
	}

	var productIDs []uuid.UUID
	sellerIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		sellerIDs = append(sellerIDs, g.SellerID)
		productIDs = append(productIDs, g.ProductIDs...)
	}

	sellers, err := s.catalog.FindSellers(ctx, sellerIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading sellers")
	}
	sellersByID := make(map[uuid.UUID]int, len(sellers))
	for i, seller := range sellers {
		sellersByID[seller.ID] = i
	}

	products, err := s.catalog.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading products")
	}
	payerByProduct := make(map[uuid.UUID]enums.ShippingPayer, len(products))
	for _, p := range products {
		payerByProduct[p.ID] = p.ShippingPaidBy
	}

	estimates := make(map[uuid.UUID]*Estimate, len(groups))
	for _, g := range groups {
		idx, ok := sellersByID[g.SellerID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller not found").
				WithDetails(map[string]any{"seller_id": g.SellerID})
		}
		seller := sellers[idx]

		est := &Estimate{
			SellerID:       g.SellerID,
			ShippingPaidBy: payerFor(g, payerByProduct),
		}

		carriers, err := s.aggregator.Serviceability(ctx, logistics.ServiceabilityParams{
			PickupAddress: seller.PickupAddress,
			DestPincode:   destPincode,
			WeightGrams:   g.WeightGrams,
		})
		if err != nil {
			s.logger.Warn(s.logger.WithSellerID(ctx, g.SellerID.String()),
				fmt.Sprintf("serviceability failed, quoting zero shipping: %v", err))
			est.Failed = true
			estimates[g.SellerID] = est
			continue
		}

		sort.SliceStable(carriers, func(i, j int) bool {
			if carriers[i].RatePaise != carriers[j].RatePaise {
				return carriers[i].RatePaise < carriers[j].RatePaise
			}
			return carriers[i].EstimatedDays < carriers[j].EstimatedDays
		})
		est.Candidates = carriers
		estimates[g.SellerID] = est
	}

	return estimates, nil
}

// payerFor resolves who pays shipping for a group: the seller absorbs it if
// any product in the group is configured seller-paid.
func payerFor(g Group, payerByProduct map[uuid.UUID]enums.ShippingPayer) enums.ShippingPayer {
	for _, id := range g.ProductIDs {
		if payerByProduct[id] == enums.ShippingPayerSeller {
			return enums.ShippingPayerSeller
		}
	}
	return enums.ShippingPayerCustomer
}
