package checkout

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/catalog"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/coupons"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/inventory"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/rates"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

type txRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type estimator interface {
	Estimate(ctx context.Context, groups []rates.Group, destPincode string) (map[uuid.UUID]*rates.Estimate, error)
}

type couponService interface {
	Evaluate(ctx context.Context, code string, subtotalPaise int64) (*coupons.Evaluation, error)
	Redeem(ctx context.Context, tx *gorm.DB, couponID, orderGroupID uuid.UUID, discountPaise int64) error
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) error
}

type gateway interface {
	CreateSession(ctx context.Context, params payments.CreateSessionParams) (*payments.Session, error)
}

type sequencer interface {
	Incr(ctx context.Context, key string) (int64, error)
	CounterKey(name string) string
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ItemInput is one cart line submitted at checkout.
type ItemInput struct {
	ProductID      uuid.UUID            `json:"productId"`
	Quantity       int                  `json:"quantity"`
	Customizations types.Customizations `json:"customizations,omitempty"`
}

// Request is the full checkout submission.
type Request struct {
	CustomerID      uuid.UUID
	Items           []ItemInput
	ShippingAddress types.Address
	CouponCode      string
}

// Result is what a completed checkout hands back to the API layer.
type Result struct {
	Group    *models.OrderGroup
	Orders   []models.Order
	Session  *models.PaymentSession
	Redirect string
	Warnings []string
}

// Service splits a cart into per-seller orders, reserves stock atomically
// across all of them, and opens one combined payment session.
type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
}

type service struct {
	db         txRunner
	repo       Repository
	catalog    catalog.Repository
	inventory  stockReserver
	coupons    couponService
	rates      estimator
	gateway    gateway
	seq        sequencer
	events     outboxPublisher
	logger     *logger.Logger
	feePolicy  types.FeePolicy
	sessionTTL time.Duration
	now        func() time.Time
}

// NewService builds the checkout splitter.
func NewService(
	db txRunner,
	repo Repository,
	catalogRepo catalog.Repository,
	inv stockReserver,
	couponSvc couponService,
	rateSvc estimator,
	gw gateway,
	seq sequencer,
	events outboxPublisher,
	logg *logger.Logger,
	feePolicy types.FeePolicy,
	sessionTTL time.Duration,
) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if couponSvc == nil {
		return nil, fmt.Errorf("coupons service required")
	}
	if rateSvc == nil {
		return nil, fmt.Errorf("rates service required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payments gateway required")
	}
	if seq == nil {
		return nil, fmt.Errorf("sequencer required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := feePolicy.Validate(); err != nil {
		return nil, err
	}
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	return &service{
		db:         db,
		repo:       repo,
		catalog:    catalogRepo,
		inventory:  inv,
		coupons:    couponSvc,
		rates:      rateSvc,
		gateway:    gw,
		seq:        seq,
		events:     events,
		logger:     logg,
		feePolicy:  feePolicy,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}, nil
}

type sellerGroup struct {
	sellerID       uuid.UUID
	products       []models.Product
	quantities     map[uuid.UUID]int
	customizations map[uuid.UUID]types.Customizations
	itemTotal      int64
	weightGrams    int
}

// Checkout runs the whole split. Stock reservation happens inside one
// transaction covering every seller order, so a single out-of-stock line
// rolls the entire cart back. Re-submitting the same cart returns the
// existing group instead of creating a duplicate.
func (s *service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	cartHash := hashCart(req)
	if existing, err := s.repo.FindGroupByCartHash(ctx, req.CustomerID, cartHash); err == nil {
		return s.resume(ctx, existing)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking cart hash")
	}

	groups, subtotal, err := s.buildGroups(ctx, req)
	if err != nil {
		return nil, err
	}

	var warnings []string

	estimates, err := s.rates.Estimate(ctx, rateGroups(groups), req.ShippingAddress.Pincode)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		est := estimates[g.sellerID]
		if est == nil || est.Failed || len(est.Candidates) == 0 {
			warnings = append(warnings, fmt.Sprintf("shipping quote unavailable for seller %s, proceeding without shipping charge", g.sellerID))
		}
	}

	var discount int64
	var coupon *models.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		eval, err := s.coupons.Evaluate(ctx, code, subtotal)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("coupon %s not applied: %s", strings.ToUpper(code), rejectionReason(err)))
		} else {
			discount = eval.DiscountPaise
			coupon = eval.Coupon
		}
	}
	discounts := prorate(discount, groups)

	sellers, err := s.catalog.FindSellers(ctx, sellerIDs(groups))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading sellers")
	}
	overrides := make(map[uuid.UUID]*models.Seller, len(sellers))
	for i := range sellers {
		overrides[sellers[i].ID] = &sellers[i]
	}

	group := &models.OrderGroup{
		ID:            uuid.New(),
		CustomerID:    req.CustomerID,
		CartHash:      cartHash,
		SubtotalPaise: subtotal,
		DiscountPaise: discount,
	}
	if coupon != nil {
		code := coupon.Code
		group.CouponCode = &code
	}

	var created []models.Order
	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		for i, g := range groups {
			seller, ok := overrides[g.sellerID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "seller not found").
					WithDetails(map[string]any{"seller_id": g.sellerID})
			}
			order, err := s.buildOrder(ctx, group, g, seller, estimates[g.sellerID], discounts[i], req.ShippingAddress, warnings)
			if err != nil {
				return err
			}
			created = append(created, *order)
			group.TotalPaise += order.TotalAmountPaise
		}

		if err := repo.CreateGroup(ctx, group); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating order group")
		}
		for i := range created {
			if err := repo.CreateOrder(ctx, &created[i]); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating order")
			}
			lines := make([]inventory.Line, 0, len(created[i].Items))
			for _, item := range created[i].Items {
				lines = append(lines, inventory.Line{ProductID: item.ProductID, Qty: item.Quantity})
			}
			if err := s.inventory.Reserve(ctx, tx, created[i].ID, lines); err != nil {
				return err
			}
			if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   created[i].ID,
				Actor:         &outbox.ActorRef{CustomerID: &req.CustomerID, Role: "customer"},
				Data: map[string]any{
					"orderNumber": created[i].OrderNumber,
					"totalPaise":  created[i].TotalAmountPaise,
				},
				Version: 1,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing order event")
			}
		}

		if coupon != nil {
			if err := s.coupons.Redeem(ctx, tx, coupon.ID, group.ID, discount); err != nil {
				return err
			}
			if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCouponRedeemed,
				AggregateType: enums.AggregateCoupon,
				AggregateID:   coupon.ID,
				Data: map[string]any{
					"orderGroupId":  group.ID,
					"discountPaise": discount,
				},
				Version: 1,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing coupon event")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	session, redirect, err := s.ensureSession(ctx, group, created)
	if err != nil {
		return nil, err
	}

	return &Result{
		Group:    group,
		Orders:   created,
		Session:  session,
		Redirect: redirect,
		Warnings: warnings,
	}, nil
}

// resume handles a double-submit: the group already exists, so only the
// payment session may still be missing.
func (s *service) resume(ctx context.Context, group *models.OrderGroup) (*Result, error) {
	session, redirect, err := s.ensureSession(ctx, group, group.Orders)
	if err != nil {
		return nil, err
	}
	return &Result{
		Group:    group,
		Orders:   group.Orders,
		Session:  session,
		Redirect: redirect,
	}, nil
}

// ensureSession returns the group's payment session, creating it with the
// provider when a previous attempt failed before persisting one. The provider
// call runs outside any transaction.
func (s *service) ensureSession(ctx context.Context, group *models.OrderGroup, orders []models.Order) (*models.PaymentSession, string, error) {
	if existing, err := s.repo.FindSessionByGroup(ctx, group.ID); err == nil {
		return existing, "", nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment session")
	}

	refs := make([]string, 0, len(orders))
	for _, o := range orders {
		refs = append(refs, o.OrderNumber)
	}
	providerSession, err := s.gateway.CreateSession(ctx, payments.CreateSessionParams{
		AmountPaise: group.TotalPaise,
		Currency:    "INR",
		OrderRefs:   refs,
	})
	if err != nil {
		return nil, "", err
	}

	session := &models.PaymentSession{
		ID:           uuid.New(),
		OrderGroupID: group.ID,
		ProviderRef:  providerSession.SessionID,
		AmountPaise:  group.TotalPaise,
		Status:       enums.PaymentSessionStatusCreated,
		ExpiresAt:    s.now().Add(s.sessionTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persisting payment session")
	}
	return session, providerSession.RedirectURL, nil
}

func (s *service) buildOrder(ctx context.Context, group *models.OrderGroup, g sellerGroup, seller *models.Seller, est *rates.Estimate, discount int64, addr types.Address, warnings []string) (*models.Order, error) {
	var shippingCost, actualShipping int64
	shippingPaidBy := enums.ShippingPayerCustomer
	if est != nil {
		shippingCost = est.CostPaise()
		actualShipping = est.ActualCostPaise()
		shippingPaidBy = est.ShippingPaidBy
	}

	totalAmount := g.itemTotal - discount
	if shippingPaidBy == enums.ShippingPayerCustomer {
		totalAmount += shippingCost
	}

	commission := s.feePolicy.CommissionOn(g.itemTotal, seller.CommissionOverride)
	gatewayFee := s.feePolicy.GatewayFeeOn(totalAmount)
	sellerAmount := g.itemTotal - commission - gatewayFee
	if shippingPaidBy == enums.ShippingPayerSeller {
		sellerAmount -= actualShipping
	}

	commissionRate := s.feePolicy.CommissionRate
	if seller.CommissionOverride != nil {
		commissionRate = *seller.CommissionOverride
	}

	number, err := s.nextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:                      uuid.New(),
		OrderNumber:             number,
		OrderGroupID:            group.ID,
		CustomerID:              group.CustomerID,
		SellerID:                g.sellerID,
		Status:                  enums.OrderStatusPending,
		PaymentStatus:           enums.PaymentStatusUnpaid,
		ItemTotalPaise:          g.itemTotal,
		DiscountPaise:           discount,
		ShippingCostPaise:       shippingCost,
		ActualShippingCostPaise: actualShipping,
		ShippingPaidBy:          shippingPaidBy,
		CommissionRate:          commissionRate,
		CommissionPaise:         commission,
		GatewayFeeRate:          s.feePolicy.GatewayFeeRate,
		GatewayFeePaise:         gatewayFee,
		SellerAmountPaise:       sellerAmount,
		TotalAmountPaise:        totalAmount,
		ShippingAddress:         addr,
		Warnings:                warnings,
	}

	seen := make(map[uuid.UUID]bool, len(g.products))
	for _, product := range g.products {
		if seen[product.ID] {
			continue
		}
		seen[product.ID] = true
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      product.ID,
			Title:          product.Title,
			ImageURL:       product.ImageURL,
			UnitPricePaise: product.PricePaise,
			Quantity:       g.quantities[product.ID],
			Customizations: g.customizations[product.ID],
		})
	}
	return order, nil
}

func (s *service) nextOrderNumber(ctx context.Context) (string, error) {
	day := s.now().Format("20060102")
	seq, err := s.seq.Incr(ctx, s.seq.CounterKey("orders:"+day))
	if err != nil {
		// counter outage must not block checkout
		s.logger.Warn(ctx, fmt.Sprintf("order number counter unavailable: %v", err))
		return fmt.Sprintf("LB-%s-%s", day, strings.ToUpper(uuid.NewString()[:6])), nil
	}
	return fmt.Sprintf("LB-%s-%06d", day, seq), nil
}

func (s *service) validate(req Request) error {
	if req.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if len(req.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	return nil
}

// buildGroups loads the catalog snapshot, validates customizations, and
// groups cart lines by seller. Customization validation runs before any
// stock is touched.
func (s *service) buildGroups(ctx context.Context, req Request) ([]sellerGroup, int64, error) {
	ids := make([]uuid.UUID, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading products")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	grouped := make(map[uuid.UUID]*sellerGroup)
	var subtotal int64
	for _, item := range req.Items {
		product, ok := byID[item.ProductID]
		if !ok || !product.IsActive {
			return nil, 0, pkgerrors.New(pkgerrors.CodeNotFound, "product not available").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}

		merged, err := mergeCustomizations(product.CustomizationSpec, item.Customizations)
		if err != nil {
			return nil, 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customization").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}

		g, ok := grouped[product.SellerID]
		if !ok {
			g = &sellerGroup{
				sellerID:       product.SellerID,
				quantities:     make(map[uuid.UUID]int),
				customizations: make(map[uuid.UUID]types.Customizations),
			}
			grouped[product.SellerID] = g
		}
		g.products = append(g.products, product)
		g.quantities[product.ID] += item.Quantity
		g.customizations[product.ID] = merged
		lineTotal := product.PricePaise * int64(item.Quantity)
		g.itemTotal += lineTotal
		g.weightGrams += product.WeightGrams * item.Quantity
		subtotal += lineTotal
	}

	groups := make([]sellerGroup, 0, len(grouped))
	for _, g := range grouped {
		groups = append(groups, *g)
	}
	// deterministic order so the discount remainder always lands on the
	// same order for a given cart
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].sellerID.String() < groups[j].sellerID.String()
	})
	return groups, subtotal, nil
}

// mergeCustomizations applies the product's required flags to the submitted
// values and validates the result.
func mergeCustomizations(spec, submitted types.Customizations) (types.Customizations, error) {
	if len(spec) == 0 {
		return submitted, submitted.Validate()
	}
	byLabel := make(map[string]types.Customization, len(submitted))
	for _, c := range submitted {
		byLabel[c.Label] = c
	}
	merged := make(types.Customizations, 0, len(spec))
	for _, entry := range spec {
		value := byLabel[entry.Label]
		value.Kind = entry.Kind
		value.Label = entry.Label
		value.Required = entry.Required
		merged = append(merged, value)
	}
	return merged, merged.Validate()
}

// prorate splits the discount across groups by subtotal share; rounding
// remainder lands on the last group.
func prorate(discount int64, groups []sellerGroup) []int64 {
	out := make([]int64, len(groups))
	if discount <= 0 || len(groups) == 0 {
		return out
	}
	var subtotal int64
	for _, g := range groups {
		subtotal += g.itemTotal
	}
	if subtotal <= 0 {
		return out
	}
	var assigned int64
	for i, g := range groups {
		if i == len(groups)-1 {
			out[i] = discount - assigned
			break
		}
		share := discount * g.itemTotal / subtotal
		out[i] = share
		assigned += share
	}
	return out
}

func rateGroups(groups []sellerGroup) []rates.Group {
	out := make([]rates.Group, 0, len(groups))
	for _, g := range groups {
		ids := make([]uuid.UUID, 0, len(g.products))
		for _, p := range g.products {
			ids = append(ids, p.ID)
		}
		out = append(out, rates.Group{
			SellerID:    g.sellerID,
			ProductIDs:  ids,
			WeightGrams: g.weightGrams,
		})
	}
	return out
}

func sellerIDs(groups []sellerGroup) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.sellerID)
	}
	return out
}

func rejectionReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if reason, ok := details["reason"].(string); ok {
				return reason
			}
		}
		return typed.Message()
	}
	return "unavailable"
}

// hashCart fingerprints the submission for double-submit detection.
func hashCart(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s\n", req.CustomerID, req.ShippingAddress.Pincode, req.ShippingAddress.Line1, strings.ToUpper(strings.TrimSpace(req.CouponCode)))
	items := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, fmt.Sprintf("%s:%d", item.ProductID, item.Quantity))
	}
	sort.Strings(items)
	for _, line := range items {
		fmt.Fprintln(h, line)
	}
	return hex.EncodeToString(h.Sum(nil))
}
