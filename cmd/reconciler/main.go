package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clipmint/clipmint-backend/internal/entitlements"
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
	logg := logger.New(logger.Options{ServiceName: "reconciler"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "reconciler"

	logg = logger.New(logger.Options{
		ServiceName: "reconciler",
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

	lock, err := settlement.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), cfg.Reconciler.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile lock", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	reconciler, err := settlement.NewReconciler(settlement.ReconcilerParams{
		Logger:         logg,
		Repo:           entitlements.NewRepository(dbClient.DB()),
		Ledger:         ledgerClient,
		Lock:           lock,
		PlatformWallet: cfg.Solana.PlatformWallet,
		JobMetrics:     jobMetrics,
		Settlement:     settlementMetrics,
		BatchSize:      cfg.Reconciler.BatchSize,
		PendingAge:     cfg.Reconciler.PendingAge,
		AbandonAge:     cfg.Reconciler.AbandonAge,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Reconciler.Interval.String(),
	})
	logg.Info(ctx, "starting entitlement reconciler")

	if err := runLoop(ctx, logg, reconciler, cfg.Reconciler.Interval); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reconciler stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reconciler shutting down gracefully")
}

func runLoop(ctx context.Context, logg *logger.Logger, reconciler *settlement.Reconciler, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := reconciler.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logg.Error(ctx, "reconcile sweep failed", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func lockKey(client *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return client.LockKey(fmt.Sprintf("entitlement-reconcile:%s", env))
}
