package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokalbazaar/lokalbazaar-backend/internal/catalog"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/cron"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/inventory"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/orders"
	internalpayments "github.com/lokalbazaar/lokalbazaar-backend/internal/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/internal/payouts"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/config"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/db"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/logger"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/metrics"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/migrate"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/outbox"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/payments"
	"github.com/lokalbazaar/lokalbazaar-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	gdb := dbClient.DB()
	events := outbox.NewService(outbox.NewRepository(gdb), logg)
	catalogRepo := catalog.NewRepository(gdb)
	ordersRepo := orders.NewRepository(gdb)

	invSvc, err := inventory.NewService(inventory.NewRepository(gdb))
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}
	ordersSvc, err := orders.NewService(gdb, ordersRepo, invSvc, events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	paySvc, err := internalpayments.NewService(gdb, internalpayments.NewRepository(gdb), ordersSvc, invSvc, paymentsClient, events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	payoutSvc, err := payouts.NewService(gdb, payouts.NewRepository(gdb), catalogRepo, events, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	runner, err := cron.NewRunner(cron.NewRedisLocker(redisClient), jobMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron runner", err)
		os.Exit(1)
	}
	runner.Register(
		cron.AutoCancelJob(cfg.Orders, gdb, ordersRepo, ordersSvc, paySvc, logg),
		cron.ReservationSweeperJob(cfg.Orders, gdb, ordersRepo, ordersSvc, logg),
		cron.PayoutBatchJob(cfg.Payouts, payoutSvc, logg),
		cron.OutboxRetentionJob(cfg.Outbox, outbox.NewRepository(gdb), logg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	go serveMetrics(ctx, cfg.App.Port, logg)

	runner.Start(ctx)
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func serveMetrics(ctx context.Context, port string, logg *logger.Logger) {
	if port == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}
