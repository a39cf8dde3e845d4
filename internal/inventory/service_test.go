package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
)

func TestReserveDecrementsStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	productA := uuid.New()
	productB := uuid.New()
	seedStock(t, db, productA, 5)
	seedStock(t, db, productB, 1)

	orderID := uuid.New()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, orderID, []Line{
			{ProductID: productA, Qty: 3},
			{ProductID: productB, Qty: 1},
		})
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	invA := loadStock(t, db, productA)
	if invA.AvailableQty != 2 || invA.ReservedQty != 3 {
		t.Fatalf("unexpected inventory a state: %+v", invA)
	}
	invB := loadStock(t, db, productB)
	if invB.AvailableQty != 0 || invB.ReservedQty != 1 {
		t.Fatalf("unexpected inventory b state: %+v", invB)
	}
}

func TestReserveInsufficientStockRollsBack(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	productA := uuid.New()
	productB := uuid.New()
	seedStock(t, db, productA, 5)
	seedStock(t, db, productB, 1)

	orderID := uuid.New()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, orderID, []Line{
			{ProductID: productA, Qty: 3},
			{ProductID: productB, Qty: 2},
		})
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// the failed transaction must leave both counters untouched
	invA := loadStock(t, db, productA)
	if invA.AvailableQty != 5 || invA.ReservedQty != 0 {
		t.Fatalf("partial reservation leaked: %+v", invA)
	}
}

func TestReserveRejectsZeroQty(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := uuid.New()
	seedStock(t, db, product, 5)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, uuid.New(), []Line{{ProductID: product, Qty: 0}})
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := uuid.New()
	const stock = 5
	seedStock(t, db, product, stock)

	const workers = 8
	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// sqlite serializes writers; retry lock contention, but an
			// insufficient-stock answer is final
			for attempt := 0; attempt < 20; attempt++ {
				err := db.Transaction(func(tx *gorm.DB) error {
					return svc.Reserve(ctx, tx, uuid.New(), []Line{{ProductID: product, Qty: 1}})
				})
				if err == nil {
					succeeded.Add(1)
					return
				}
				if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInsufficientStock {
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	inv := loadStock(t, db, product)
	if inv.ReservedQty > stock || inv.AvailableQty < 0 {
		t.Fatalf("reservations exceeded stock: %+v", inv)
	}
	if inv.AvailableQty+inv.ReservedQty != stock {
		t.Fatalf("stock counters drifted: %+v", inv)
	}
	got := succeeded.Load()
	if got == 0 {
		t.Fatalf("no reservation succeeded")
	}
	if got != int64(inv.ReservedQty) {
		t.Fatalf("%d successful reserves but %d units reserved", got, inv.ReservedQty)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := uuid.New()
	seedStock(t, db, product, 5)

	orderID := uuid.New()
	if err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, orderID, []Line{{ProductID: product, Qty: 2}})
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	var first, second int
	if err := db.Transaction(func(tx *gorm.DB) error {
		n, err := svc.Release(ctx, tx, orderID)
		first = n
		return err
	}); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		n, err := svc.Release(ctx, tx, orderID)
		second = n
		return err
	}); err != nil {
		t.Fatalf("second release: %v", err)
	}

	if first != 1 || second != 0 {
		t.Fatalf("expected 1 then 0 released lines, got %d then %d", first, second)
	}

	inv := loadStock(t, db, product)
	if inv.AvailableQty != 5 || inv.ReservedQty != 0 {
		t.Fatalf("double release corrupted stock: %+v", inv)
	}
}

func TestCommitConsumesReservedStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := uuid.New()
	seedStock(t, db, product, 5)

	orderID := uuid.New()
	if err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, orderID, []Line{{ProductID: product, Qty: 2}})
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Commit(ctx, tx, orderID)
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	inv := loadStock(t, db, product)
	if inv.AvailableQty != 3 || inv.ReservedQty != 0 {
		t.Fatalf("unexpected stock after commit: %+v", inv)
	}

	// committed reservations must not be releasable
	if err := db.Transaction(func(tx *gorm.DB) error {
		n, err := svc.Release(ctx, tx, orderID)
		if n != 0 {
			t.Fatalf("released committed reservation")
		}
		return err
	}); err != nil {
		t.Fatalf("release after commit: %v", err)
	}
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedStock(t *testing.T, db *gorm.DB, productID uuid.UUID, qty int) {
	t.Helper()
	if err := db.Create(&models.InventoryItem{ProductID: productID, AvailableQty: qty}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

func loadStock(t *testing.T, db *gorm.DB, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := db.First(&item, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return item
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryItem{}, &models.InventoryReservation{}); err != nil {
		t.Fatalf("migrate inventory: %v", err)
	}
	return db
}
