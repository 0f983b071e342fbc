package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-fin/meridian-consol/internal/consol"
	"github.com/meridian-fin/meridian-consol/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueConsolidation carries consolidation run executions.
	QueueConsolidation = "consolidation"
	// TaskTypeConsolidationRun executes one pending consolidation run.
	TaskTypeConsolidationRun = "consol:run"
)

// ConsolidationRunPayload identifies the run to execute.
type ConsolidationRunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// NewConsolidationRunTask constructs an Asynq task for one run.
func NewConsolidationRunTask(payload ConsolidationRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConsolidationRun, data), nil
}

// RunExecutor drives a consolidation run to completion.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID uuid.UUID) error
}

// NewConsolidationRunHandler builds the handler for TaskTypeConsolidationRun
// tasks. Malformed payloads and missing runs are never retried; a run that
// fails a step persists its failure before the error surfaces here, so a
// retry hits the terminal-state guard and stops.
func NewConsolidationRunHandler(executor RunExecutor, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ConsolidationRunPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		err := executor.ExecuteRun(ctx, payload.RunID)
		switch {
		case err == nil:
			metrics.ObserveRun(string(consol.RunStatusCompleted))
			return nil
		case errors.Is(err, consol.ErrRunNotFound), errors.Is(err, consol.ErrInvalidTransition):
			logger.Warn("consolidation run not executable",
				slog.String("run_id", payload.RunID.String()), slog.Any("error", err))
			return asynq.SkipRetry
		default:
			metrics.ObserveRun(string(consol.RunStatusFailed))
			logger.Error("consolidation run failed",
				slog.String("run_id", payload.RunID.String()), slog.Any("error", err))
			return err
		}
	}
}
