package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veloracommerce/paycore/internal/audit"
	"github.com/veloracommerce/paycore/internal/idempotency"
	"github.com/veloracommerce/paycore/internal/ledger"
	"github.com/veloracommerce/paycore/internal/locks"
	"github.com/veloracommerce/paycore/internal/notifications"
	"github.com/veloracommerce/paycore/internal/orders"
	"github.com/veloracommerce/paycore/internal/sweep"
	"github.com/veloracommerce/paycore/pkg/config"
	"github.com/veloracommerce/paycore/pkg/db"
	"github.com/veloracommerce/paycore/pkg/logger"
	"github.com/veloracommerce/paycore/pkg/metrics"
	"github.com/veloracommerce/paycore/pkg/migrate"
	"github.com/veloracommerce/paycore/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweep-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweep-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sweep-worker",
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

	service, err := buildService(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sweep worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweep worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweep worker shutting down gracefully")
}

func buildService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*sweep.Service, error) {
	gormDB := dbClient.DB()
	auditService, err := audit.NewService(audit.NewRepository(gormDB))
	if err != nil {
		return nil, fmt.Errorf("audit service: %w", err)
	}

	sweepMetrics := metrics.NewSweepMetrics(prometheus.DefaultRegisterer)

	ledgerJob, err := sweep.NewLedgerReconcileJob(sweep.LedgerReconcileJobParams{
		Logger:             logg,
		Repository:         ledger.NewRepository(gormDB),
		Metrics:            sweepMetrics,
		ProcessingDeadline: cfg.Ledger.ProcessingDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger reconcile job: %w", err)
	}

	reviewJob, err := sweep.NewOrderReviewJob(sweep.OrderReviewJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   orders.NewRepository(gormDB),
		Audit:        auditService,
		Metrics:      sweepMetrics,
		ReviewWindow: cfg.Sweep.ReviewWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("order review job: %w", err)
	}

	lockJob, err := sweep.NewLockRetireJob(sweep.LockRetireJobParams{
		Logger:     logg,
		Repository: locks.NewRepository(gormDB),
		Metrics:    sweepMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("lock retire job: %w", err)
	}

	cacheJob, err := sweep.NewCachePurgeJob(sweep.CachePurgeJobParams{
		Logger:     logg,
		Repository: idempotency.NewRepository(gormDB),
		Metrics:    sweepMetrics,
		Staleness:  cfg.Idempotency.StalenessThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("cache purge job: %w", err)
	}

	notificationJob, err := sweep.NewNotificationRetentionJob(sweep.NotificationRetentionJobParams{
		Logger:       logg,
		Repository:   notifications.NewRepository(gormDB),
		Metrics:      sweepMetrics,
		ClaimTimeout: cfg.Notifications.ClaimTimeout,
		Retention:    cfg.Notifications.Retention,
	})
	if err != nil {
		return nil, fmt.Errorf("notification retention job: %w", err)
	}

	runLock, err := sweep.NewRedisRunLock(redisClient, lockKey(redisClient, cfg.App.Env), cfg.Sweep.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}

	registry := sweep.NewRegistry(ledgerJob, reviewJob, lockJob, cacheJob, notificationJob)
	return sweep.NewService(sweep.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     runLock,
		Metrics:  sweepMetrics,
		Interval: cfg.Sweep.Interval,
	})
}

func lockKey(redisClient *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return redisClient.LockKey(fmt.Sprintf("sweep-worker:%s", env))
}
