package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian-consol/internal/consol/elim"
	"github.com/meridian-fin/meridian-consol/internal/consol/ic"
	"github.com/meridian-fin/meridian-consol/internal/consol/nci"
	"github.com/meridian-fin/meridian-consol/internal/consol/translate"
	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/observability"
)

// Service is the consolidation facade consumed by the API layer and the
// background worker. It validates external input before delegating to the
// engines.
type Service struct {
	repo         Repository
	translator   *translate.Engine
	matcher      *ic.Matcher
	generator    *elim.Generator
	nciCalc      *nci.Calculator
	orchestrator *Orchestrator
	matching     ic.MatchingConfig
	validate     *validator.Validate
	logger       *slog.Logger
	now          func() time.Time
}

// NewService constructs the consolidation service. The repositories usually
// share one Postgres-backed implementation.
func NewService(repo Repository, icRepo ic.Repository, elimRepo elim.Repository, logger *slog.Logger) *Service {
	translator := translate.NewEngine(logger)
	matcher := ic.NewMatcher(icRepo, logger)
	generator := elim.NewGenerator(elimRepo, logger)
	nciCalc := nci.NewCalculator(logger)
	return &Service{
		repo:         repo,
		translator:   translator,
		matcher:      matcher,
		generator:    generator,
		nciCalc:      nciCalc,
		orchestrator: NewOrchestrator(repo, translator, matcher, generator, nciCalc, logger),
		matching:     ic.DefaultMatchingConfig(),
		validate:     validator.New(),
		logger:       logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
		s.orchestrator.WithClock(clock)
	}
}

// WithMetrics attaches run and step instruments to the orchestrator.
func (s *Service) WithMetrics(metrics *observability.Metrics) {
	s.orchestrator.WithMetrics(metrics)
}

// WithMatchingConfig sets the intercompany matching tolerances applied when a
// caller does not provide its own.
func (s *Service) WithMatchingConfig(cfg ic.MatchingConfig) {
	if cfg.DateToleranceDays < 0 {
		return
	}
	s.matching = cfg
	s.orchestrator.WithMatchingConfig(cfg)
}

// Orchestrator exposes the underlying orchestrator for worker wiring.
func (s *Service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// ValidateBalance proves double-entry balance for a line set in the given
// functional currency.
func (s *Service) ValidateBalance(lines []ledger.JournalLine, currency string) error {
	if s == nil {
		return fmt.Errorf("consol: service not initialised")
	}
	return ledger.ValidateBalance(lines, currency)
}

// TranslateMemberBalances converts one member's trial balance into the
// reporting currency.
func (s *Service) TranslateMemberBalances(in translate.Input) (translate.Result, error) {
	if s == nil || s.translator == nil {
		return translate.Result{}, fmt.Errorf("consol: service not initialised")
	}
	return s.translator.Translate(in)
}

// MatchTransactions runs intercompany matching for the group and period. A
// nil config applies the default tolerance windows.
func (s *Service) MatchTransactions(ctx context.Context, groupID uuid.UUID, period string, cfg *ic.MatchingConfig) (ic.Report, error) {
	if s == nil || s.matcher == nil {
		return ic.Report{}, fmt.Errorf("consol: service not initialised")
	}
	config := s.matching
	if cfg != nil {
		if err := s.validate.Struct(cfg); err != nil {
			return ic.Report{}, fmt.Errorf("consol: invalid matching config: %w", err)
		}
		config = *cfg
	}
	return s.matcher.Match(ctx, groupID, period, config)
}

// GenerateEliminations applies elimination rules for the group and period.
// Passing rules overrides the stored rule set.
func (s *Service) GenerateEliminations(ctx context.Context, groupID uuid.UUID, period string, rules []elim.Rule) (elim.GenerationResult, error) {
	if s == nil || s.generator == nil {
		return elim.GenerationResult{}, fmt.Errorf("consol: service not initialised")
	}
	return s.generator.Generate(ctx, groupID, period, rules)
}

// CalculateNCI computes the minority-interest position for one subsidiary.
func (s *Service) CalculateNCI(sub nci.SubsidiaryData) (nci.Result, error) {
	if s == nil || s.nciCalc == nil {
		return nci.Result{}, fmt.Errorf("consol: service not initialised")
	}
	return s.nciCalc.Calculate(sub)
}

// CalculateConsolidatedNCI aggregates minority interest across subsidiaries.
func (s *Service) CalculateConsolidatedNCI(subs []nci.SubsidiaryData, currency string) (nci.ConsolidatedSummary, error) {
	if s == nil || s.nciCalc == nil {
		return nci.ConsolidatedSummary{}, fmt.Errorf("consol: service not initialised")
	}
	return s.nciCalc.CalculateConsolidated(subs, currency)
}

// StartRunRequest creates a new consolidation run.
type StartRunRequest struct {
	GroupID uuid.UUID `validate:"required"`
	Period  string    `validate:"required"`
	Options RunOptions
}

// StartRun registers a pending consolidation run for the group and period.
// A completed run for the same scope is returned as-is unless the request
// forces regeneration; an active run is never superseded.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (*Run, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("consol: service not initialised")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("consol: invalid run request: %w", err)
	}
	if _, err := time.Parse("2006-01", req.Period); err != nil {
		return nil, fmt.Errorf("consol: invalid period %q", req.Period)
	}

	ok, err := s.repo.GroupExists(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGroupNotFound
	}
	ok, err = s.repo.PeriodExists(ctx, req.Period)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPeriodNotFound
	}

	existing, err := s.repo.FindRunByGroupAndPeriod(ctx, req.GroupID, req.Period)
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		return nil, err
	}
	if existing != nil {
		if !existing.Status.IsTerminal() {
			return nil, ErrRunActive
		}
		if existing.Status == RunStatusCompleted && !req.Options.ForceRegeneration {
			return existing, nil
		}
	}

	asOf, err := s.repo.PeriodEndDate(ctx, req.Period)
	if err != nil {
		return nil, err
	}
	run := NewRun(req.GroupID, req.Period, asOf, req.Options, s.now())
	if err := s.repo.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	s.log().Info("consolidation run created",
		slog.String("run_id", run.ID.String()),
		slog.String("group_id", req.GroupID.String()),
		slog.String("period", req.Period))
	return run, nil
}

// ExecuteRun loads a pending run and drives it to completion.
func (s *Service) ExecuteRun(ctx context.Context, runID uuid.UUID) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("consol: service not initialised")
	}
	run, err := s.repo.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	return s.orchestrator.Execute(ctx, run)
}

// GetRun loads a run by id.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("consol: service not initialised")
	}
	return s.repo.LoadRun(ctx, runID)
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "consol_service"))
	}
	return slog.Default().With(slog.String("component", "consol_service"))
}
