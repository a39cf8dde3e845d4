package cron

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/payouts"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/config"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/enums"
	pkgerrors "github.com/lokalbazaar/lokalbazaar-backend/pkg/errors"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
)

const (
	reasonAutoCancelled = "auto_cancelled_unshipped"
	reasonAbandoned     = "abandoned"
)

type txRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

type refunder interface {
	RefundGroup(ctx context.Context, groupID uuid.UUID, amountPaise int64) error
}

type retentionStore interface {
	DeletePublishedBefore(cutoff time.Time) (int64, error)
}

// AutoCancelJob cancels confirmed orders whose fulfilment never started
// within the configured window and refunds the customer's payment for each.
func AutoCancelJob(cfg config.OrdersConfig, db txRunner, repo orders.Repository, orderSvc orders.Service, refunds refunder, logg *logger.Logger) Job {
	return Job{
		Name:  "order_autocancel",
		Every: time.Hour,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-cfg.AutoCancelAfter)
			stale, err := repo.FindStaleConfirmed(ctx, cutoff, cfg.AutoCancelBatchSize)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading stale confirmed orders")
			}

			var errs error
			for _, order := range stale {
				octx := logg.WithOrderID(ctx, order.ID.String())

				err := db.Transaction(func(tx *gorm.DB) error {
					_, err := orderSvc.Cancel(ctx, tx, order.ID, reasonAutoCancelled, nil)
					return err
				})
				if err != nil {
					if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
						// shipped or cancelled since the batch was loaded
						continue
					}
					errs = multierr.Append(errs, err)
					continue
				}
				logg.Info(octx, "auto-cancelled unshipped order")

				if order.PaymentStatus != enums.PaymentStatusPaid {
					continue
				}
				// refund outside the cancel transaction; a crash between the
				// two leaves the order cancelled+paid for the next run
				if err := refunds.RefundGroup(ctx, order.OrderGroupID, order.TotalAmountPaise); err != nil {
					logg.Error(octx, "refund for auto-cancelled order failed", err)
					errs = multierr.Append(errs, err)
					continue
				}
				err = db.Transaction(func(tx *gorm.DB) error {
					return orderSvc.SetPaymentStatus(ctx, tx, order.ID, []enums.PaymentStatus{enums.PaymentStatusPaid}, enums.PaymentStatusRefunded)
				})
				if err != nil {
					errs = multierr.Append(errs, err)
				}
			}
			return errs
		},
	}
}

// ReservationSweeperJob cancels pending orders that were never paid within
// the abandonment window, releasing the stock they still hold.
func ReservationSweeperJob(cfg config.OrdersConfig, db txRunner, repo orders.Repository, orderSvc orders.Service, logg *logger.Logger) Job {
	return Job{
		Name:  "reservation_sweeper",
		Every: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-cfg.AbandonedReservation)
			stale, err := repo.FindStalePending(ctx, cutoff, cfg.AutoCancelBatchSize)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading abandoned orders")
			}

			var errs error
			swept := 0
			for _, order := range stale {
				err := db.Transaction(func(tx *gorm.DB) error {
					_, err := orderSvc.Cancel(ctx, tx, order.ID, reasonAbandoned, nil)
					return err
				})
				if err != nil {
					if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
						// payment landed while the batch was in flight
						continue
					}
					errs = multierr.Append(errs, err)
					continue
				}
				swept++
			}
			if swept > 0 {
				logg.Info(logg.WithField(ctx, "swept", swept), "released abandoned reservations")
			}
			return errs
		},
	}
}

// PayoutBatchJob settles the trailing payout period for every seller.
func PayoutBatchJob(cfg config.PayoutsConfig, payoutSvc payouts.Service, logg *logger.Logger) Job {
	return Job{
		Name:  "payout_batch",
		Every: 24 * time.Hour,
		Run: func(ctx context.Context) error {
			end := time.Now()
			start := end.AddDate(0, 0, -cfg.PeriodDays)
			created, err := payoutSvc.Calculate(ctx, start, end, "")
			if err != nil {
				return err
			}
			logg.Info(logg.WithField(ctx, "payouts", len(created)), "payout batch calculated")
			return nil
		},
	}
}

// OutboxRetentionJob prunes published outbox rows past their retention.
func OutboxRetentionJob(cfg config.OutboxConfig, store retentionStore, logg *logger.Logger) Job {
	return Job{
		Name:  "outbox_retention",
		Every: 6 * time.Hour,
		Run: func(ctx context.Context) error {
			deleted, err := store.DeletePublishedBefore(time.Now().Add(-cfg.Retention))
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pruning outbox")
			}
			if deleted > 0 {
				logg.Info(logg.WithField(ctx, "deleted", deleted), "pruned published outbox events")
			}
			return nil
		},
	}
}
