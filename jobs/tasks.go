package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/vigor-gym/vigor/internal/membership"
	"github.com/vigor-gym/vigor/internal/sales"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMembershipExpiry scans for active memberships past their end date.
	TaskMembershipExpiry = "membership:expire_scan"
	// TaskLayawayExpiry voids layaways past their pickup deadline.
	TaskLayawayExpiry = "sales:layaway_expiry"
)

// NewMembershipExpiryTask constructs the nightly membership expiry task.
func NewMembershipExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskMembershipExpiry, nil)
}

// NewLayawayExpiryTask constructs the nightly layaway expiry task.
func NewLayawayExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskLayawayExpiry, nil)
}

// NewMembershipExpiryHandler processes TaskMembershipExpiry tasks.
func NewMembershipExpiryHandler(svc *membership.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := svc.ExpireOverdue(ctx)
		if err != nil {
			logger.Error("membership expiry scan", slog.Any("error", err))
			return err
		}
		logger.Info("membership expiry scan done", slog.Int("expired", n))
		return nil
	}
}

// NewLayawayExpiryHandler processes TaskLayawayExpiry tasks.
func NewLayawayExpiryHandler(svc *sales.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := svc.ExpireOverdueLayaways(ctx)
		if err != nil {
			logger.Error("layaway expiry scan", slog.Any("error", err))
			return err
		}
		logger.Info("layaway expiry scan done", slog.Int("expired", n))
		return nil
	}
}
