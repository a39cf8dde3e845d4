package payouts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/catalog"
	dbpkg "github.com/lokalbazaar/lokalbazaar-backend/pkg/db"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db/models"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
)

// HoldReasonBankDetails marks a payout held for missing bank details.
const HoldReasonBankDetails = "bank_details_incomplete"

type txRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the payout batch engine. Re-running a window is safe: order
// inclusion is fenced by a unique constraint, never by locking the batch.
type Service interface {
	Calculate(ctx context.Context, periodStart, periodEnd time.Time, periodLabel string) ([]models.Payout, error)
	MarkPaid(ctx context.Context, payoutID uuid.UUID, transactionID string) (*models.Payout, error)
	Get(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
	List(ctx context.Context, sellerID *uuid.UUID, limit, offset int) ([]models.Payout, error)
}

type service struct {
	db      txRunner
	repo    Repository
	catalog catalog.Repository
	events  outboxPublisher
	logger  *logger.Logger
	now     func() time.Time
}

// NewService builds the payout engine.
func NewService(db txRunner, repo Repository, catalogRepo catalog.Repository, events outboxPublisher, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:      db,
		repo:    repo,
		catalog: catalogRepo,
		events:  events,
		logger:  logg,
		now:     time.Now,
	}, nil
}

// Calculate settles every delivered, paid order in the window that no payout
// has claimed yet, one payout per seller. Two overlapping runs racing on the
// same orders resolve through the inclusion constraint: one run wins per
// order, the loser's payout for that seller is dropped. An empty periodLabel
// is derived from the window dates.
func (s *service) Calculate(ctx context.Context, periodStart, periodEnd time.Time, periodLabel string) ([]models.Payout, error) {
	if !periodEnd.After(periodStart) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period end must be after period start")
	}

	settleable, err := s.repo.FindSettleableOrders(ctx, periodStart, periodEnd)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading settleable orders")
	}
	if len(settleable) == 0 {
		return nil, nil
	}

	bySeller := make(map[uuid.UUID][]models.Order)
	sellerIDs := make([]uuid.UUID, 0)
	for _, order := range settleable {
		if _, seen := bySeller[order.SellerID]; !seen {
			sellerIDs = append(sellerIDs, order.SellerID)
		}
		bySeller[order.SellerID] = append(bySeller[order.SellerID], order)
	}

	sellers, err := s.catalog.FindSellers(ctx, sellerIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading sellers")
	}
	sellerByID := make(map[uuid.UUID]*models.Seller, len(sellers))
	for i := range sellers {
		sellerByID[sellers[i].ID] = &sellers[i]
	}

	var created []models.Payout
	for _, sellerID := range sellerIDs {
		seller, ok := sellerByID[sellerID]
		if !ok {
			s.logger.Warn(s.logger.WithSellerID(ctx, sellerID.String()), "skipping payout for unknown seller")
			continue
		}

		payout := s.buildPayout(seller, bySeller[sellerID], periodStart, periodEnd, periodLabel)
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).CreatePayout(ctx, payout); err != nil {
				return err
			}
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayoutCreated,
				AggregateType: enums.AggregatePayout,
				AggregateID:   payout.ID,
				Data: map[string]any{
					"sellerId":       sellerID,
					"netPayoutPaise": payout.NetPayoutPaise,
					"orderCount":     payout.OrderCount,
					"status":         payout.Status,
				},
				Version: 1,
			})
		})
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "uniq_payout_orders_order_id") {
				// a concurrent run settled at least one of these orders first
				s.logger.Warn(s.logger.WithSellerID(ctx, sellerID.String()), "payout lost inclusion race, skipping seller")
				continue
			}
			return created, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persisting payout")
		}
		created = append(created, *payout)
	}
	return created, nil
}

// MarkPaid settles a pending or processing payout. Anything else is an
// invalid state.
func (s *service) MarkPaid(ctx context.Context, payoutID uuid.UUID, transactionID string) (*models.Payout, error) {
	if transactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if !payout.Status.AwaitsPayment() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payout is not awaiting payment").
			WithDetails(map[string]any{"status": payout.Status})
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).MarkPaid(ctx, payoutID, transactionID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marking payout paid")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout is not awaiting payment")
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutPaid,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payoutID,
			Data: map[string]any{
				"transactionId":  transactionID,
				"netPayoutPaise": payout.NetPayoutPaise,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, payoutID)
}

func (s *service) Get(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindByID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payout")
	}
	return payout, nil
}

func (s *service) List(ctx context.Context, sellerID *uuid.UUID, limit, offset int) ([]models.Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	payouts, err := s.repo.List(ctx, sellerID, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing payouts")
	}
	return payouts, nil
}

func (s *service) buildPayout(seller *models.Seller, orders []models.Order, periodStart, periodEnd time.Time, periodLabel string) *models.Payout {
	if periodLabel == "" {
		periodLabel = fmt.Sprintf("%s/%s", periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
	}
	payout := &models.Payout{
		ID:          uuid.New(),
		SellerID:    seller.ID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		PeriodLabel: periodLabel,
		Status:      enums.PayoutStatusPending,
	}

	for _, order := range orders {
		payout.OrderCount++
		payout.TotalSalesPaise += order.ItemTotalPaise
		payout.CommissionDeductedPaise += order.CommissionPaise
		payout.GatewayFeesDeductedPaise += order.GatewayFeePaise
		if order.ShippingPaidBy == enums.ShippingPayerSeller {
			payout.ShippingDeductedPaise += order.ActualShippingCostPaise
		}
		payout.Orders = append(payout.Orders, models.PayoutOrder{
			PayoutID:          payout.ID,
			OrderID:           order.ID,
			SellerAmountPaise: order.SellerAmountPaise,
		})
	}

	payout.NetPayoutPaise = payout.TotalSalesPaise -
		payout.CommissionDeductedPaise -
		payout.GatewayFeesDeductedPaise -
		payout.ShippingDeductedPaise
	if payout.NetPayoutPaise < 0 {
		payout.NetPayoutPaise = 0
	}

	if seller.BankDetails == nil || !seller.BankDetails.Complete() {
		reason := HoldReasonBankDetails
		payout.Status = enums.PayoutStatusOnHold
		payout.HoldReason = &reason
	}
	if seller.BankDetails != nil {
		snapshot := *seller.BankDetails
		payout.BankDetailsSnapshot = &snapshot
	}
	return payout
}
