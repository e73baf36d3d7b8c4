package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/amaruortiz/vendora-backend/api/routes"
	"github.com/amaruortiz/vendora-backend/internal/catalog"
	"github.com/amaruortiz/vendora-backend/internal/disputes"
	"github.com/amaruortiz/vendora-backend/internal/ledger"
	"github.com/amaruortiz/vendora-backend/internal/orders"
	"github.com/amaruortiz/vendora-backend/internal/payments"
	"github.com/amaruortiz/vendora-backend/internal/payouts"
	"github.com/amaruortiz/vendora-backend/internal/refunds"
	"github.com/amaruortiz/vendora-backend/internal/settlement"
	"github.com/amaruortiz/vendora-backend/pkg/config"
	"github.com/amaruortiz/vendora-backend/pkg/db"
	"github.com/amaruortiz/vendora-backend/pkg/gateway"
	"github.com/amaruortiz/vendora-backend/pkg/logger"
	"github.com/amaruortiz/vendora-backend/pkg/metrics"
	"github.com/amaruortiz/vendora-backend/pkg/migrate"
	"github.com/amaruortiz/vendora-backend/pkg/outbox"
	"github.com/amaruortiz/vendora-backend/pkg/redis"
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

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipeline := metrics.NewPipelineMetrics(registry)

	events := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	catalogRepo := catalog.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	ledgerService, err := ledger.NewService(ledgerRepo)
	if err != nil {
		fatal(logg, "ledger service", err)
	}

	settlementService, err := settlement.NewService(settlement.NewRepository(dbClient.DB()), ledgerRepo, events, cfg.Pricing, logg)
	if err != nil {
		fatal(logg, "settlement service", err)
	}

	refundService, err := refunds.NewService(refunds.NewRepository(dbClient.DB()), orderRepo, ledgerRepo, catalogRepo, events, dbClient, pipeline, logg)
	if err != nil {
		fatal(logg, "refunds service", err)
	}

	orderService, err := orders.NewService(orderRepo, catalogRepo, events, dbClient, cfg.Pricing, refundService, logg)
	if err != nil {
		fatal(logg, "orders service", err)
	}

	paymentService, err := payments.NewService(payments.NewRepository(dbClient.DB()), orderRepo, settlementService, events, gatewayClient, dbClient, redisClient, pipeline, logg)
	if err != nil {
		fatal(logg, "payments service", err)
	}

	payoutService, err := payouts.NewService(payouts.NewRepository(dbClient.DB()), ledgerRepo, events, dbClient, cfg.Pricing, pipeline, logg)
	if err != nil {
		fatal(logg, "payouts service", err)
	}

	disputeService, err := disputes.NewService(disputes.NewRepository(dbClient.DB()), orderRepo, refundService, events, dbClient, logg)
	if err != nil {
		fatal(logg, "disputes service", err)
	}

	handler := routes.NewRouter(routes.Deps{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Gateway:  gatewayClient,
		Registry: registry,
		Pipeline: pipeline,

		Orders:     orderService,
		Payments:   paymentService,
		Settlement: settlementService,
		Ledger:     ledgerService,
		Payouts:    payoutService,
		Refunds:    refundService,
		Disputes:   disputeService,
	})

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown error", err)
			os.Exit(1)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}

func fatal(logg *logger.Logger, what string, err error) {
	logg.Error(context.Background(), "failed to create "+what, err)
	os.Exit(1)
}
