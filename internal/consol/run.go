package consol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus captures the lifecycle of a consolidation run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusCancelled  RunStatus = "CANCELLED"
)

// IsTerminal reports whether the run can no longer change.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus captures the lifecycle of one step inside a run.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
	StepStatusSkipped    StepStatus = "SKIPPED"
)

// IsTerminal reports whether the step finished in any way.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// StepName identifies one of the seven fixed consolidation steps.
type StepName string

const (
	StepValidate   StepName = "VALIDATE"
	StepTranslate  StepName = "TRANSLATE"
	StepAggregate  StepName = "AGGREGATE"
	StepMatchIC    StepName = "MATCH_IC"
	StepEliminate  StepName = "ELIMINATE"
	StepNCI        StepName = "NCI"
	StepGenerateTB StepName = "GENERATE_TB"
)

// StepOrder is the fixed execution sequence. Options never reorder it.
var StepOrder = [7]StepName{
	StepValidate,
	StepTranslate,
	StepAggregate,
	StepMatchIC,
	StepEliminate,
	StepNCI,
	StepGenerateTB,
}

// Step records status and timing for one consolidation step.
type Step struct {
	Name         StepName   `json:"name"`
	Status       StepStatus `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunOptions tune step behaviour without changing step order.
type RunOptions struct {
	SkipValidation                 bool `json:"skip_validation"`
	ContinueOnWarnings             bool `json:"continue_on_warnings"`
	IncludeEquityMethodInvestments bool `json:"include_equity_method_investments"`
	ForceRegeneration              bool `json:"force_regeneration"`
}

// ErrInvalidTransition indicates a run or step state change that the
// lifecycle does not permit.
var ErrInvalidTransition = errors.New("consol: invalid state transition")

// Run is a single consolidation execution for a group and period. Steps are
// mutated strictly in StepOrder; terminal statuses never change.
type Run struct {
	ID                  uuid.UUID
	GroupID             uuid.UUID
	Period              string
	AsOf                time.Time
	Status              RunStatus
	Steps               []Step
	Options             RunOptions
	Validation          *ValidationResult
	FinalTrialBalance   *TrialBalance
	EliminationEntryIDs []uuid.UUID
	ErrorMessage        string
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// NewRun builds a pending run with all seven steps pending.
func NewRun(groupID uuid.UUID, period string, asOf time.Time, opts RunOptions, now time.Time) *Run {
	steps := make([]Step, len(StepOrder))
	for i, name := range StepOrder {
		steps[i] = Step{Name: name, Status: StepStatusPending}
	}
	return &Run{
		ID:        uuid.New(),
		GroupID:   groupID,
		Period:    period,
		AsOf:      asOf,
		Status:    RunStatusPending,
		Steps:     steps,
		Options:   opts,
		CreatedAt: now,
	}
}

// Start moves the run from pending to in progress.
func (r *Run) Start(now time.Time) error {
	if r.Status != RunStatusPending {
		return fmt.Errorf("%w: run %s from %s", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = RunStatusInProgress
	r.StartedAt = &now
	return nil
}

// Complete marks the run finished successfully.
func (r *Run) Complete(now time.Time) error {
	if r.Status != RunStatusInProgress {
		return fmt.Errorf("%w: complete run %s from %s", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = RunStatusCompleted
	r.CompletedAt = &now
	return nil
}

// Fail marks the run failed with the given message.
func (r *Run) Fail(now time.Time, message string) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: fail run %s from %s", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = RunStatusFailed
	r.ErrorMessage = message
	r.CompletedAt = &now
	return nil
}

// Cancel marks the run cancelled. Already terminal runs cannot be cancelled.
func (r *Run) Cancel(now time.Time) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: cancel run %s from %s", ErrInvalidTransition, r.ID, r.Status)
	}
	r.Status = RunStatusCancelled
	r.CompletedAt = &now
	return nil
}

func (r *Run) step(name StepName) *Step {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// BeginStep transitions a pending step to in progress. Every earlier step in
// StepOrder must already be terminal.
func (r *Run) BeginStep(name StepName, now time.Time) error {
	target := r.step(name)
	if target == nil {
		return fmt.Errorf("%w: unknown step %s", ErrInvalidTransition, name)
	}
	if target.Status != StepStatusPending {
		return fmt.Errorf("%w: step %s from %s", ErrInvalidTransition, name, target.Status)
	}
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			break
		}
		if !r.Steps[i].Status.IsTerminal() {
			return fmt.Errorf("%w: step %s before %s finished", ErrInvalidTransition, name, r.Steps[i].Name)
		}
	}
	target.Status = StepStatusInProgress
	target.StartedAt = &now
	return nil
}

// CompleteStep marks an in-progress step completed.
func (r *Run) CompleteStep(name StepName, now time.Time) error {
	return r.finishStep(name, StepStatusCompleted, "", now)
}

// FailStep marks an in-progress step failed with the given message.
func (r *Run) FailStep(name StepName, message string, now time.Time) error {
	return r.finishStep(name, StepStatusFailed, message, now)
}

// SkipStep marks a pending step skipped. Only pending steps can be skipped.
func (r *Run) SkipStep(name StepName, now time.Time) error {
	target := r.step(name)
	if target == nil {
		return fmt.Errorf("%w: unknown step %s", ErrInvalidTransition, name)
	}
	if target.Status != StepStatusPending {
		return fmt.Errorf("%w: skip step %s from %s", ErrInvalidTransition, name, target.Status)
	}
	target.Status = StepStatusSkipped
	target.CompletedAt = &now
	return nil
}

func (r *Run) finishStep(name StepName, status StepStatus, message string, now time.Time) error {
	target := r.step(name)
	if target == nil {
		return fmt.Errorf("%w: unknown step %s", ErrInvalidTransition, name)
	}
	if target.Status != StepStatusInProgress {
		return fmt.Errorf("%w: finish step %s from %s", ErrInvalidTransition, name, target.Status)
	}
	target.Status = status
	target.ErrorMessage = message
	target.CompletedAt = &now
	return nil
}

// CurrentStep returns the step currently in progress, or nil.
func (r *Run) CurrentStep() *Step {
	for i := range r.Steps {
		if r.Steps[i].Status == StepStatusInProgress {
			return &r.Steps[i]
		}
	}
	return nil
}

// ProgressPercent is the share of steps with a terminal completion time.
func (r *Run) ProgressPercent() float64 {
	if len(r.Steps) == 0 {
		return 0
	}
	done := 0
	for i := range r.Steps {
		if r.Steps[i].CompletedAt != nil {
			done++
		}
	}
	return float64(done) / float64(len(r.Steps)) * 100
}
