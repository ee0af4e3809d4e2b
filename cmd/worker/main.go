package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vigor-gym/vigor/internal/app"
	"github.com/vigor-gym/vigor/internal/inventory"
	"github.com/vigor-gym/vigor/internal/membership"
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

	auditLogger := shared.NewAuditLogger(pool)

	membershipRepo := membership.NewRepository(pool)
	membershipSvc := membership.NewService(membershipRepo, auditLogger, cal, logger)

	inventoryRepo := inventory.NewRepository(pool)
	inventorySvc := inventory.NewService(inventoryRepo, auditLogger, cal, logger)

	salesRepo := sales.NewRepository(pool)
	salesSvc := sales.NewService(salesRepo, inventorySvc, auditLogger, cal, sales.Config{
		DepositPercent: cfg.LayawayDepositPercent,
		ExpiryDays:     cfg.LayawayExpiryDays,
	}, logger)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("load timezone", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Location:  loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskMembershipExpiry, Handler: jobs.NewMembershipExpiryHandler(membershipSvc, logger)},
			{Type: jobs.TaskLayawayExpiry, Handler: jobs.NewLayawayExpiryHandler(salesSvc, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 0 * * *", Task: jobs.NewMembershipExpiryTask()},
			{Spec: "15 0 * * *", Task: jobs.NewLayawayExpiryTask()},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
