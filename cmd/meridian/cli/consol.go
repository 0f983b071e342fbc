package cli

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-fin/meridian-consol/jobs"
)

// ConsolOpsCLI exposes helpers for managing consolidation run jobs.
type ConsolOpsCLI struct {
	jobs *JobsCLI
}

// NewConsolOpsCLI constructs the helper wired to the provided Redis endpoint.
func NewConsolOpsCLI(redisAddr string) (*ConsolOpsCLI, error) {
	base, err := NewJobsCLI(redisAddr)
	if err != nil {
		return nil, err
	}
	return &ConsolOpsCLI{jobs: base}, nil
}

// Close releases the underlying Asynq resources.
func (c *ConsolOpsCLI) Close() error {
	if c == nil || c.jobs == nil {
		return nil
	}
	return c.jobs.Close()
}

// TriggerRun enqueues execution of an already-created pending run.
func (c *ConsolOpsCLI) TriggerRun(ctx context.Context, runID uuid.UUID) (*asynq.TaskInfo, error) {
	if c == nil || c.jobs == nil {
		return nil, errors.New("consol cli: client not configured")
	}
	task, err := jobs.NewConsolidationRunTask(jobs.ConsolidationRunPayload{RunID: runID})
	if err != nil {
		return nil, err
	}
	return c.jobs.Enqueue(ctx, task, asynq.MaxRetry(3))
}

// InspectQueue proxies queue statistics for observability.
func (c *ConsolOpsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.jobs == nil {
		return QueueStats{}, errors.New("consol cli: inspector not configured")
	}
	return c.jobs.InspectQueue(ctx)
}

// ListScheduled exposes the upcoming scheduled jobs from the consolidation
// queue.
func (c *ConsolOpsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.jobs == nil {
		return nil, errors.New("consol cli: inspector not configured")
	}
	return c.jobs.ListScheduled(ctx, size)
}
