// Package main is the entry point for the alertflow engine.
//
// The engine process serves the HTTP API, evaluates events against workflows,
// runs dispatches and their escalation ladders, consumes events from SQS and
// NATS when enabled, and runs the maintenance jobs on a cron schedule.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the HTTP server drains first, then running dispatches are given
// DISPATCH_GRACE_PERIOD to finish before they are aborted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"alertflow/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// SSM is only consulted outside APP_ENV=local.
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("alertflow engine starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.serve(ctx)
}

// serve runs the HTTP server, the consumers and the maintenance runner until
// ctx ends or one of them fails, then shuts everything down in order.
func (a *app) serve(ctx context.Context) error {
	a.engine.Start(ctx)
	if a.runner != nil {
		a.runner.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, ":"+a.cfg.Server.Port)
	})
	for _, c := range a.consumers {
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s consumer: %w", c.name, err)
			}
			return nil
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		a.logger.Error("engine stopping after failure", "error", runErr)
	} else {
		a.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.drainTimeout())
	defer cancel()

	if a.runner != nil {
		if err := a.runner.Stop(shutdownCtx); err != nil {
			a.logger.Warn("maintenance runner did not stop in time", "error", err)
		}
	}
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("running dispatches aborted at shutdown", "error", err)
	}

	a.logger.Info("engine stopped")
	return runErr
}

func (a *app) drainTimeout() time.Duration {
	if d := a.cfg.Engine.GracePeriod; d > 0 {
		return d
	}
	return 30 * time.Second
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
