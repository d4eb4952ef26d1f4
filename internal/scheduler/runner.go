package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner fires every maintenance task on a cron schedule inside the engine
// process.
type Runner struct {
	cron    *cron.Cron
	handler *Handler
	tasks   []TaskType
	logger  *slog.Logger
}

// NewRunner parses schedule ("@every 15m", "0 */15 * * * *") and registers
// one job that runs tasks in order.
func NewRunner(schedule string, handler *Handler, tasks []TaskType, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(tasks) == 0 {
		tasks = AllTasks
	}
	r := &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		handler: handler,
		tasks:   tasks,
		logger:  logger,
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return r, nil
}

// RunOnce runs every task once. Failures are logged; later tasks still run.
func (r *Runner) RunOnce(ctx context.Context) {
	for _, task := range r.tasks {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.handler.Handle(ctx, MaintenancePayload{Task: task}); err != nil {
			r.logger.ErrorContext(ctx, "maintenance task failed", "task", task, "error", err)
		}
	}
}

// Start begins scheduling in the background.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for a running job until ctx ends.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
