package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clipmint/clipmint-backend/api/routes"
	"github.com/clipmint/clipmint-backend/internal/entitlements"
	"github.com/clipmint/clipmint-backend/internal/fees"
	"github.com/clipmint/clipmint-backend/internal/settlement"
	"github.com/clipmint/clipmint-backend/pkg/config"
	"github.com/clipmint/clipmint-backend/pkg/db"
	"github.com/clipmint/clipmint-backend/pkg/ledger"
	"github.com/clipmint/clipmint-backend/pkg/logger"
	"github.com/clipmint/clipmint-backend/pkg/metrics"
	"github.com/clipmint/clipmint-backend/pkg/migrate"
	"github.com/clipmint/clipmint-backend/pkg/redis"
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

	ledgerClient, err := ledger.New(cfg.Solana)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger client", err)
		os.Exit(1)
	}

	calculator, err := fees.NewCalculator(cfg.Fees.FeePercent, cfg.Fees.FeeThresholdLamports)
	if err != nil {
		logg.Error(context.Background(), "failed to create fee calculator", err)
		os.Exit(1)
	}

	var signer settlement.Signer
	if cfg.Solana.PlatformSigningKey != "" {
		keySigner, err := settlement.NewKeySigner(cfg.Solana.PlatformSigningKey)
		if err != nil {
			logg.Error(context.Background(), "failed to load platform signing key", err)
			os.Exit(1)
		}
		signer = keySigner
	}

	registry := prometheus.NewRegistry()
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	entitlementRepo := entitlements.NewRepository(dbClient.DB())
	entitlementService, err := entitlements.NewService(entitlementRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlement service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.Params{
		Logger:         logg,
		Repo:           entitlementRepo,
		Ledger:         ledgerClient,
		Calculator:     calculator,
		PlatformWallet: cfg.Solana.PlatformWallet,
		Signer:         signer,
		Metrics:        settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
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
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, settlementService, entitlementService, registry),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
