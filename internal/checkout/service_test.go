package checkout

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/catalog"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/coupons"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/inventory"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/rates"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logistics"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

type stubEstimator struct {
	estimates map[uuid.UUID]*rates.Estimate
}

func (s *stubEstimator) Estimate(_ context.Context, groups []rates.Group, _ string) (map[uuid.UUID]*rates.Estimate, error) {
	out := make(map[uuid.UUID]*rates.Estimate, len(groups))
	for _, g := range groups {
		if est, ok := s.estimates[g.SellerID]; ok {
			out[g.SellerID] = est
		} else {
			out[g.SellerID] = &rates.Estimate{SellerID: g.SellerID, ShippingPaidBy: enums.ShippingPayerCustomer, Failed: true}
		}
	}
	return out, nil
}

type stubGateway struct {
	calls int
	fail  bool
}

func (s *stubGateway) CreateSession(_ context.Context, params payments.CreateSessionParams) (*payments.Session, error) {
	s.calls++
	if s.fail {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider down")
	}
	return &payments.Session{
		SessionID:   fmt.Sprintf("sess_%d_%d", params.AmountPaise, s.calls),
		RedirectURL: "https://pay.example/" + fmt.Sprint(s.calls),
	}, nil
}

type stubSequencer struct {
	next int64
}

func (s *stubSequencer) Incr(context.Context, string) (int64, error) {
	s.next++
	return s.next, nil
}

func (s *stubSequencer) CounterKey(name string) string { return "test:counter:" + name }

type fixture struct {
	db      *gorm.DB
	svc     Service
	gateway *stubGateway
	sellerA uuid.UUID
	sellerB uuid.UUID
	prodA   uuid.UUID
	prodB   uuid.UUID
}

func TestCheckoutSplitsCartAndProratesDiscount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	seedCoupon(t, f.db, "SAVE10", enums.CouponTypePercent, 10, nil)

	result, err := f.svc.Checkout(context.Background(), Request{
		CustomerID: uuid.New(),
		Items: []ItemInput{
			{ProductID: f.prodA, Quantity: 1},
			{ProductID: f.prodB, Quantity: 1},
		},
		ShippingAddress: testAddress(),
		CouponCode:      "SAVE10",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(result.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(result.Orders))
	}

	byShare := make(map[uuid.UUID]models.Order, 2)
	for _, o := range result.Orders {
		byShare[o.SellerID] = o
	}

	orderA := byShare[f.sellerA]
	if orderA.ItemTotalPaise != 100000 || orderA.DiscountPaise != 10000 || orderA.ShippingCostPaise != 5000 {
		t.Fatalf("unexpected order A split: %+v", orderA)
	}
	if orderA.TotalAmountPaise != 95000 {
		t.Fatalf("order A total should be 95000 paise, got %d", orderA.TotalAmountPaise)
	}

	orderB := byShare[f.sellerB]
	if orderB.ItemTotalPaise != 200000 || orderB.DiscountPaise != 20000 {
		t.Fatalf("unexpected order B split: %+v", orderB)
	}
	if orderB.ShippingPaidBy != enums.ShippingPayerSeller || orderB.ShippingCostPaise != 0 {
		t.Fatalf("seller-paid shipping must not charge the customer: %+v", orderB)
	}
	if orderB.TotalAmountPaise != 180000 {
		t.Fatalf("order B total should be 180000 paise, got %d", orderB.TotalAmountPaise)
	}

	// totalAmount == itemTotal + customer shipping - discount on every order
	for _, o := range result.Orders {
		expected := o.ItemTotalPaise - o.DiscountPaise
		if o.ShippingPaidBy == enums.ShippingPayerCustomer {
			expected += o.ShippingCostPaise
		}
		if o.TotalAmountPaise != expected {
			t.Fatalf("total invariant broken for %s: %+v", o.OrderNumber, o)
		}
	}

	if result.Session == nil || result.Session.AmountPaise != 95000+180000 {
		t.Fatalf("session should charge the combined total: %+v", result.Session)
	}

	var item models.InventoryItem
	if err := f.db.First(&item, "product_id = ?", f.prodA).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if item.ReservedQty != 1 {
		t.Fatalf("stock not reserved: %+v", item)
	}
}

func TestCheckoutComputesSellerAmount(t *testing.T) {
	t.Parallel()

	// commission 5%, gateway 3%, seller-paid shipping 40 rupees
	f := newFixture(t, func(f *fixture) {
		override := decimal.NewFromFloat(0.05)
		if err := f.db.Model(&models.Seller{}).Where("id = ?", f.sellerB).
			Update("commission_override", override).Error; err != nil {
			t.Fatalf("set override: %v", err)
		}
	})

	result, err := f.svc.Checkout(context.Background(), Request{
		CustomerID:      uuid.New(),
		Items:           []ItemInput{{ProductID: f.prodB, Quantity: 1}},
		ShippingAddress: testAddress(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	order := result.Orders[0]
	// itemTotal 200000, commission 5% = 10000, gateway 3% of total 200000 = 6000,
	// seller-paid shipping 4000
	if order.CommissionPaise != 10000 {
		t.Fatalf("expected commission 10000, got %d", order.CommissionPaise)
	}
	if order.GatewayFeePaise != 6000 {
		t.Fatalf("expected gateway fee 6000, got %d", order.GatewayFeePaise)
	}
	expected := int64(200000 - 10000 - 6000 - 4000)
	if order.SellerAmountPaise != expected {
		t.Fatalf("expected seller amount %d, got %d", expected, order.SellerAmountPaise)
	}
}

func TestCheckoutInsufficientStockRollsBackEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture) {
		if err := f.db.Model(&models.InventoryItem{}).Where("product_id = ?", f.prodB).
			Update("available_qty", 0).Error; err != nil {
			t.Fatalf("drain stock: %v", err)
		}
	})
	seedCoupon(t, f.db, "SAVE10", enums.CouponTypePercent, 10, nil)

	_, err := f.svc.Checkout(context.Background(), Request{
		CustomerID: uuid.New(),
		Items: []ItemInput{
			{ProductID: f.prodA, Quantity: 1},
			{ProductID: f.prodB, Quantity: 1},
		},
		ShippingAddress: testAddress(),
		CouponCode:      "SAVE10",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var orderCount, groupCount int64
	f.db.Model(&models.Order{}).Count(&orderCount)
	f.db.Model(&models.OrderGroup{}).Count(&groupCount)
	if orderCount != 0 || groupCount != 0 {
		t.Fatalf("failed checkout leaked rows: orders=%d groups=%d", orderCount, groupCount)
	}

	var item models.InventoryItem
	if err := f.db.First(&item, "product_id = ?", f.prodA).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if item.AvailableQty != 10 || item.ReservedQty != 0 {
		t.Fatalf("sibling reservation leaked: %+v", item)
	}

	var coupon models.Coupon
	if err := f.db.First(&coupon, "code = ?", "SAVE10").Error; err != nil {
		t.Fatalf("load coupon: %v", err)
	}
	if coupon.UsedCount != 0 {
		t.Fatalf("coupon redeemed despite rollback: %d", coupon.UsedCount)
	}
}

func TestCheckoutExpiredCouponProceedsWithWarning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	expired := time.Now().Add(-time.Hour)
	seedCoupon(t, f.db, "EXPIRED5", enums.CouponTypePercent, 5, &expired)

	result, err := f.svc.Checkout(context.Background(), Request{
		CustomerID:      uuid.New(),
		Items:           []ItemInput{{ProductID: f.prodA, Quantity: 1}},
		ShippingAddress: testAddress(),
		CouponCode:      "EXPIRED5",
	})
	if err != nil {
		t.Fatalf("checkout should proceed without discount: %v", err)
	}
	if result.Orders[0].DiscountPaise != 0 {
		t.Fatalf("expired coupon must not discount: %+v", result.Orders[0])
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a coupon warning")
	}
}

func TestCheckoutDoubleSubmitReturnsExistingGroup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	customerID := uuid.New()
	req := Request{
		CustomerID:      customerID,
		Items:           []ItemInput{{ProductID: f.prodA, Quantity: 2}},
		ShippingAddress: testAddress(),
	}

	first, err := f.svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := f.svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}

	if first.Group.ID != second.Group.ID {
		t.Fatalf("double submit created a new group")
	}
	if f.gateway.calls != 1 {
		t.Fatalf("expected one provider session, got %d", f.gateway.calls)
	}

	var orderCount int64
	f.db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 1 {
		t.Fatalf("double submit duplicated orders: %d", orderCount)
	}
}

func TestCheckoutRejectsMissingRequiredCustomization(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture) {
		spec := types.Customizations{{
			Kind:     enums.CustomizationKindText,
			Required: true,
			Label:    "Engraving",
		}}
		if err := f.db.Model(&models.Product{}).Where("id = ?", f.prodA).
			Update("customization_spec", spec).Error; err != nil {
			t.Fatalf("set spec: %v", err)
		}
	})

	_, err := f.svc.Checkout(context.Background(), Request{
		CustomerID:      uuid.New(),
		Items:           []ItemInput{{ProductID: f.prodA, Quantity: 1}},
		ShippingAddress: testAddress(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	var item models.InventoryItem
	if err := f.db.First(&item, "product_id = ?", f.prodA).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if item.ReservedQty != 0 {
		t.Fatalf("stock reserved despite validation failure: %+v", item)
	}
}

func newFixture(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()

	db := newTestDB(t)
	f := &fixture{
		db:      db,
		gateway: &stubGateway{},
		sellerA: uuid.New(),
		sellerB: uuid.New(),
		prodA:   uuid.New(),
		prodB:   uuid.New(),
	}

	// seller A ships at the customer's expense, seller B absorbs shipping
	seedSeller(t, db, f.sellerA)
	seedSeller(t, db, f.sellerB)
	seedProduct(t, db, f.prodA, f.sellerA, 100000, enums.ShippingPayerCustomer)
	seedProduct(t, db, f.prodB, f.sellerB, 200000, enums.ShippingPayerSeller)
	seedStock(t, db, f.prodA, 10)
	seedStock(t, db, f.prodB, 10)

	if mutate != nil {
		mutate(f)
	}

	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	invSvc, err := inventory.NewService(inventory.NewRepository(db))
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	couponSvc, err := coupons.NewService(coupons.NewRepository(db))
	if err != nil {
		t.Fatalf("coupons service: %v", err)
	}
	estimator := &stubEstimator{estimates: map[uuid.UUID]*rates.Estimate{
		f.sellerA: {
			SellerID:       f.sellerA,
			ShippingPaidBy: enums.ShippingPayerCustomer,
			Candidates:     []logistics.Carrier{{CarrierID: "fast", RatePaise: 5000, EstimatedDays: 3}},
		},
		f.sellerB: {
			SellerID:       f.sellerB,
			ShippingPaidBy: enums.ShippingPayerSeller,
			Candidates:     []logistics.Carrier{{CarrierID: "fast", RatePaise: 4000, EstimatedDays: 2}},
		},
	}}

	feePolicy, err := types.NewFeePolicy("0.10", "0.03")
	if err != nil {
		t.Fatalf("fee policy: %v", err)
	}

	svc, err := NewService(
		db,
		NewRepository(db),
		catalog.NewRepository(db),
		invSvc,
		couponSvc,
		estimator,
		f.gateway,
		&stubSequencer{},
		outbox.NewService(outbox.NewRepository(db), logg),
		logg,
		feePolicy,
		30*time.Minute,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func testAddress() types.Address {
	return types.Address{
		Name:    "Asha Rao",
		Phone:   "9876543210",
		Line1:   "14 Lake View Road",
		City:    "Bengaluru",
		State:   "KA",
		Pincode: "560001",
		Country: "IN",
	}
}

func seedSeller(t *testing.T, db *gorm.DB, id uuid.UUID) {
	t.Helper()
	seller := models.Seller{
		ID:   id,
		Name: "Seller " + id.String()[:8],
		PickupAddress: types.Address{
			Line1:   "5 Industrial Estate",
			City:    "Delhi",
			State:   "DL",
			Pincode: "110001",
		},
		IsActive: true,
	}
	if err := db.Create(&seller).Error; err != nil {
		t.Fatalf("seed seller: %v", err)
	}
}

func seedProduct(t *testing.T, db *gorm.DB, id, sellerID uuid.UUID, pricePaise int64, payer enums.ShippingPayer) {
	t.Helper()
	product := models.Product{
		ID:             id,
		SellerID:       sellerID,
		Title:          "Product " + id.String()[:8],
		PricePaise:     pricePaise,
		WeightGrams:    500,
		ShippingPaidBy: payer,
		IsActive:       true,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func seedStock(t *testing.T, db *gorm.DB, productID uuid.UUID, qty int) {
	t.Helper()
	if err := db.Create(&models.InventoryItem{ProductID: productID, AvailableQty: qty}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func seedCoupon(t *testing.T, db *gorm.DB, code string, kind enums.CouponType, value int64, expiresAt *time.Time) {
	t.Helper()
	coupon := models.Coupon{
		ID:         uuid.New(),
		Code:       code,
		Type:       kind,
		Value:      decimal.NewFromInt(value),
		UsageLimit: 100,
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}
	if err := db.Create(&coupon).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Seller{},
		&models.Product{},
		&models.InventoryItem{},
		&models.InventoryReservation{},
		&models.Coupon{},
		&models.CouponRedemption{},
		&models.OrderGroup{},
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentSession{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate checkout: %v", err)
	}
	return db
}
