package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/creditcore/creditcore-backend/api/controllers"
	"github.com/creditcore/creditcore-backend/api/routes"
	"github.com/creditcore/creditcore-backend/internal/credits"
	"github.com/creditcore/creditcore-backend/internal/promotions"
	"github.com/creditcore/creditcore-backend/pkg/config"
	"github.com/creditcore/creditcore-backend/pkg/db"
	"github.com/creditcore/creditcore-backend/pkg/instance"
	"github.com/creditcore/creditcore-backend/pkg/logger"
	"github.com/creditcore/creditcore-backend/pkg/metrics"
	"github.com/creditcore/creditcore-backend/pkg/migrate"
	"github.com/creditcore/creditcore-backend/pkg/redis"
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

	promoService, err := promotions.NewService(promotions.ServiceParams{
		Repo: promotions.NewRepository(dbClient.DB()),
		Logg: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create promotions service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	creditService, err := credits.NewService(credits.ServiceParams{
		Repo:            credits.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Promotions:      promoService,
		Logg:            logg,
		Metrics:         metrics.NewCreditOpMetrics(registry),
		MaxGrantAmount:  cfg.Credits.MaxGrantAmount,
		SweepBatchSize:  cfg.ExpirySweep.BatchSize,
		ReplayReadDelay: cfg.Credits.ReplayReadDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:  cfg,
			Logger:  logg,
			Credits: creditService,
			Limiter: redisClient,
			Pingers: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Registry: registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
