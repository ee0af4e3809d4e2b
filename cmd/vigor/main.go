package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vigor-gym/vigor/internal/app"
	"github.com/vigor-gym/vigor/internal/inventory"
	"github.com/vigor-gym/vigor/internal/membership"
	"github.com/vigor-gym/vigor/internal/observability"
	"github.com/vigor-gym/vigor/internal/platform/cache"
	"github.com/vigor-gym/vigor/internal/platform/db"
	"github.com/vigor-gym/vigor/internal/sales"
	"github.com/vigor-gym/vigor/internal/shared"
	"github.com/vigor-gym/vigor/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	cal, err := shared.NewCalendar(cfg.Timezone)
	if err != nil {
		logger.Error("load timezone", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	membershipRepo := membership.NewRepository(pool)
	membershipSvc := membership.NewService(membershipRepo, auditLogger, cal, logger)
	progressStore := membership.NewRedisProgressStore(redisClient)
	orchestrator := membership.NewOrchestrator(membershipSvc, membershipRepo, progressStore, cfg.BulkWorkers, logger)
	membershipHandler := membership.NewHandler(logger, membershipSvc, orchestrator, progressStore)

	inventoryRepo := inventory.NewRepository(pool)
	inventorySvc := inventory.NewService(inventoryRepo, auditLogger, cal, logger)
	inventoryHandler := inventory.NewHandler(logger, inventorySvc)

	salesRepo := sales.NewRepository(pool)
	salesSvc := sales.NewService(salesRepo, inventorySvc, auditLogger, cal, sales.Config{
		DepositPercent: cfg.LayawayDepositPercent,
		ExpiryDays:     cfg.LayawayExpiryDays,
	}, logger)
	salesHandler := sales.NewHandler(logger, salesSvc)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              pool,
		MembershipHandler: membershipHandler,
		InventoryHandler:  inventoryHandler,
		SalesHandler:      salesHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}
