package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
)

// Line is one product/quantity pair to reserve for an order.
type Line struct {
	ProductID uuid.UUID
	Qty       int
}

// Service is the inventory reservation ledger. Reserve and Commit run
// inside the caller's transaction so a multi-seller checkout stays
// all-or-nothing; Release is idempotent per order line.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error)
	Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type service struct {
	repo Repository
}

// NewService builds the inventory ledger service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	repo := s.repo.WithTx(tx)

	for _, line := range lines {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
		ok, err := repo.ReserveStock(ctx, line.ProductID, line.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserving stock")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{"product_id": line.ProductID, "requested_qty": line.Qty})
		}
		reservation := models.InventoryReservation{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: line.ProductID,
			Qty:       line.Qty,
		}
		if err := repo.CreateReservation(ctx, &reservation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording reservation")
		}
	}
	return nil
}

// Release restores stock for every still-active reservation of the order
// and returns how many lines it released. Calling it twice releases zero
// lines the second time.
func (s *service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	reservations, err := repo.FindActiveByOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading reservations")
	}

	released := 0
	for _, reservation := range reservations {
		ok, err := repo.MarkReleased(ctx, reservation.ID)
		if err != nil {
			return released, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marking reservation released")
		}
		if !ok {
			continue
		}
		if err := repo.RestoreStock(ctx, reservation.ProductID, reservation.Qty); err != nil {
			return released, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restoring stock")
		}
		released++
	}
	return released, nil
}

// Commit converts the order's reservations into sold stock once payment
// is reconciled.
func (s *service) Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	reservations, err := repo.FindActiveByOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading reservations")
	}

	for _, reservation := range reservations {
		ok, err := repo.MarkCommitted(ctx, reservation.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marking reservation committed")
		}
		if !ok {
			continue
		}
		if _, err := repo.CommitStock(ctx, reservation.ProductID, reservation.Qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "committing stock")
		}
	}
	return nil
}
