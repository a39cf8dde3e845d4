package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/lokalbazaar/lokalbazaar-backend/api/routes"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/catalog"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/checkout"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/coupons"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/inventory"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	internalpayments "github.com/lokalbazaar/lokalbazaar-backend/internal/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/payouts"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/rates"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/shipments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/config"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logistics"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/migrate"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/redis"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/types"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paymentsClient, err := payments.NewClient(context.Background(), cfg.Payments, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments client", err)
		os.Exit(1)
	}
	logisticsClient, err := logistics.NewClient(context.Background(), cfg.Logistics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create logistics client", err)
		os.Exit(1)
	}

	feePolicy, err := types.NewFeePolicy(cfg.Marketplace.CommissionRate, cfg.Marketplace.GatewayFeeRate)
	if err != nil {
		logg.Error(context.Background(), "invalid marketplace fee policy", err)
		os.Exit(1)
	}

	gdb := dbClient.DB()
	events := outbox.NewService(outbox.NewRepository(gdb), logg)
	catalogRepo := catalog.NewRepository(gdb)

	invSvc, err := inventory.NewService(inventory.NewRepository(gdb))
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}
	couponSvc, err := coupons.NewService(coupons.NewRepository(gdb))
	if err != nil {
		logg.Error(context.Background(), "failed to create coupons service", err)
		os.Exit(1)
	}
	rateSvc, err := rates.NewService(catalogRepo, logisticsClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create rates service", err)
		os.Exit(1)
	}
	ordersSvc, err := orders.NewService(gdb, orders.NewRepository(gdb), invSvc, events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	checkoutSvc, err := checkout.NewService(
		gdb,
		checkout.NewRepository(gdb),
		catalogRepo,
		invSvc,
		couponSvc,
		rateSvc,
		paymentsClient,
		redisClient,
		events,
		logg,
		feePolicy,
		cfg.Payments.SessionTTL,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}
	paySvc, err := internalpayments.NewService(gdb, internalpayments.NewRepository(gdb), ordersSvc, invSvc, paymentsClient, events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	shipSvc, err := shipments.NewService(gdb, shipments.NewRepository(gdb), catalogRepo, ordersSvc, logisticsClient, events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipments service", err)
		os.Exit(1)
	}
	payoutSvc, err := payouts.NewService(gdb, payouts.NewRepository(gdb), catalogRepo, events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, paymentsClient, checkoutSvc, ordersSvc, paySvc, shipSvc, payoutSvc),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
