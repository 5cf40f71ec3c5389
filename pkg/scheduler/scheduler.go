// Package scheduler arms one-shot delayed tasks keyed by name. At most one
// task per name is outstanding; arming it again before it fires fails with
// ErrTaskExists.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var ErrTaskExists = errors.New("task already exists")

const DefaultQueue = "aa-fiready-queue"

type Task struct {
	Name         string
	WorkflowID   string
	ScheduleTime time.Time
}

type Scheduler interface {
	Schedule(ctx context.Context, task Task) error
}

// Queue is a Scheduler whose due tasks can be claimed. A claimed task is
// removed, so each task is handed out once.
type Queue interface {
	Scheduler
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Task, error)
}

type Handler func(ctx context.Context, workflowID string) error

type RunnerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Runner polls a Queue and dispatches due tasks to a handler.
type Runner struct {
	queue   Queue
	handler Handler
	config  RunnerConfig
	now     func() time.Time
}

func NewRunner(queue Queue, handler Handler, config RunnerConfig) *Runner {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &Runner{
		queue:   queue,
		handler: handler,
		config:  config,
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("fallback scheduler stopped")
			return
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to claim due tasks")
			}
		}
	}
}

// Tick claims every due task once and dispatches it. Handler failures are
// logged; the task is not re-armed.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	logger := zerolog.Ctx(ctx)

	tasks, err := r.queue.ClaimDue(ctx, r.now(), r.config.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		if err := r.handler(ctx, task.WorkflowID); err != nil {
			logger.Error().Err(err).
				Str("task", task.Name).
				Str("workflow_id", task.WorkflowID).
				Msg("fallback task failed")
		}
	}
	return len(tasks), nil
}
