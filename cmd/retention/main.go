// Package main is the entrypoint for the retention Lambda.
//
// EventBridge invokes it with a scheduler.MaintenancePayload, one rule per
// task:
//
//	{"task": "reap_stale_dispatches"}
//	{"task": "purge_notifications", "reference_time": "2026-03-02T03:00:00Z"}
//
// It runs the same MaintenanceService as the engine's in-process runner and
// takes the same Redis job lock, so both may be deployed side by side.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"alertflow/internal/cache"
	"alertflow/internal/config"
	"alertflow/internal/db"
	"alertflow/internal/scheduler"
	"alertflow/internal/types"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("retention lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolSettings{
		URL:             cfg.Database.URL.Unmask(),
		MaxConns:        2,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		AcquireTimeout:  cfg.Database.AcquireTimeout,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	lock := jobLock(cfg.Redis)
	if lock == nil {
		logger.Warn("REDIS_ADDR not set; maintenance runs without a job lock")
	}

	// Unique per Lambda instance; recorded as the lock owner.
	workerID := uuid.NewString()

	handler := &scheduler.Handler{
		Service: scheduler.NewMaintenanceService(
			db.NewDispatchRepository(pool),
			db.NewNotificationRepository(pool),
			scheduler.PolicyFromConfig(cfg.Retention, cfg.Engine),
			logger,
		),
		JobLock:  lock,
		Clock:    types.RealClock{},
		WorkerID: workerID,
		Logger:   logger,
	}

	logger.Info("retention lambda initialized", "worker_id", workerID)
	lambda.Start(handler.Handle)
}

// jobLock returns the Redis lock, or nil when no Redis is configured.
func jobLock(c config.RedisConfig) scheduler.JobLocker {
	if c.Addr == "" {
		return nil
	}
	return cache.NewJobLock(cache.NewClient(c))
}
