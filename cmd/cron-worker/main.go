package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/creditcore/creditcore-backend/internal/credits"
	"github.com/creditcore/creditcore-backend/internal/cron"
	"github.com/creditcore/creditcore-backend/internal/promotions"
	"github.com/creditcore/creditcore-backend/pkg/config"
	"github.com/creditcore/creditcore-backend/pkg/db"
	"github.com/creditcore/creditcore-backend/pkg/instance"
	"github.com/creditcore/creditcore-backend/pkg/logger"
	"github.com/creditcore/creditcore-backend/pkg/metrics"
	"github.com/creditcore/creditcore-backend/pkg/migrate"
	"github.com/creditcore/creditcore-backend/pkg/redis"
)

const lockKeyFormat = "cron-worker:%s"

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

	promoService, err := promotions.NewService(promotions.ServiceParams{
		Repo: promotions.NewRepository(dbClient.DB()),
		Logg: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create promotions service", err)
		os.Exit(1)
	}

	creditService, err := credits.NewService(credits.ServiceParams{
		Repo:            credits.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Promotions:      promoService,
		Logg:            logg,
		Metrics:         metrics.NewCreditOpMetrics(prometheus.DefaultRegisterer),
		MaxGrantAmount:  cfg.Credits.MaxGrantAmount,
		SweepBatchSize:  cfg.ExpirySweep.BatchSize,
		ReplayReadDelay: cfg.Credits.ReplayReadDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewCreditExpiryJob(cron.CreditExpiryJobParams{
		Logger:  logg,
		Credits: creditService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credit expiry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.ExpirySweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
