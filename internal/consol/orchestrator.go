package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-fin/meridian-consol/internal/consol/elim"
	"github.com/meridian-fin/meridian-consol/internal/consol/ic"
	"github.com/meridian-fin/meridian-consol/internal/consol/nci"
	"github.com/meridian-fin/meridian-consol/internal/consol/translate"
	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
	"github.com/meridian-fin/meridian-consol/internal/observability"
)

// balanceTolerance is the rounding slack allowed on the final trial balance.
var balanceTolerance = decimal.NewFromFloat(0.01)

// Repository defines the persistence behaviour required by the orchestrator.
// The same implementation also backs the matcher and the elimination
// generator repositories.
type Repository interface {
	GroupExists(ctx context.Context, groupID uuid.UUID) (bool, error)
	PeriodExists(ctx context.Context, period string) (bool, error)
	Group(ctx context.Context, groupID uuid.UUID) (Group, error)
	PeriodEndDate(ctx context.Context, period string) (time.Time, error)

	MemberTrialBalanceLines(ctx context.Context, companyID uuid.UUID, period string) ([]ledger.JournalLine, error)
	MemberAccountLines(ctx context.Context, companyID uuid.UUID, period string) ([]translate.AccountLine, error)
	MemberIncome(ctx context.Context, companyID uuid.UUID, period string) (netIncome, dividends money.Money, err error)
	MemberRates(ctx context.Context, companyID uuid.UUID, period string) (translate.Rates, error)
	SubsidiaryData(ctx context.Context, groupID uuid.UUID, period string) ([]nci.SubsidiaryData, error)
	AccountsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error)

	SaveRun(ctx context.Context, run *Run) error
	LoadRun(ctx context.Context, id uuid.UUID) (*Run, error)
	FindRunByGroupAndPeriod(ctx context.Context, groupID uuid.UUID, period string) (*Run, error)
	SaveEliminationEntries(ctx context.Context, entries []elim.Entry) error
}

// Orchestrator drives a consolidation run through its seven steps. Each step
// consumes the previous step's output; a failed step halts the run since the
// steps are data-dependent.
type Orchestrator struct {
	repo       Repository
	translator *translate.Engine
	matcher    *ic.Matcher
	generator  *elim.Generator
	nciCalc    *nci.Calculator
	matching   ic.MatchingConfig
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires the orchestrator and its engines.
func NewOrchestrator(repo Repository, translator *translate.Engine, matcher *ic.Matcher, generator *elim.Generator, nciCalc *nci.Calculator, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:       repo,
		translator: translator,
		matcher:    matcher,
		generator:  generator,
		nciCalc:    nciCalc,
		matching:   ic.DefaultMatchingConfig(),
		logger:     logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for deterministic tests.
func (o *Orchestrator) WithClock(clock func() time.Time) {
	if clock != nil {
		o.now = clock
	}
}

// WithMetrics attaches the instrument set recording per-step durations.
func (o *Orchestrator) WithMetrics(metrics *observability.Metrics) {
	o.metrics = metrics
}

// WithMatchingConfig overrides the intercompany matching tolerances used by
// the matching step.
func (o *Orchestrator) WithMatchingConfig(cfg ic.MatchingConfig) {
	if cfg.DateToleranceDays >= 0 {
		o.matching = cfg
	}
}

// runState carries intermediate step outputs through one execution.
type runState struct {
	group      Group
	endDate    time.Time
	members    []Member
	translated map[uuid.UUID]translate.Result
	aggregated map[string]*TrialBalanceLine
	elimDelta  map[string]money.Money
	matching   *ic.Report
	nciSummary nci.ConsolidatedSummary
}

// Execute runs all steps of a pending run in order, persisting the run after
// every state change. Cancellation is honoured between steps, never mid-step.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) error {
	if o == nil || o.repo == nil {
		return fmt.Errorf("consol: orchestrator not initialised")
	}

	group, err := o.repo.Group(ctx, run.GroupID)
	if err != nil {
		return err
	}
	ok, err := o.repo.PeriodExists(ctx, run.Period)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPeriodNotFound
	}
	endDate, err := o.repo.PeriodEndDate(ctx, run.Period)
	if err != nil {
		return err
	}

	if err := run.Start(o.now()); err != nil {
		return err
	}
	if err := o.repo.SaveRun(ctx, run); err != nil {
		return err
	}

	state := &runState{
		group:   group,
		endDate: endDate,
		members: consolidatingMembers(group, run.Options),
	}
	steps := []struct {
		name StepName
		skip bool
		fn   func(context.Context, *Run, *runState) error
	}{
		{StepValidate, run.Options.SkipValidation, o.stepValidate},
		{StepTranslate, false, o.stepTranslate},
		{StepAggregate, false, o.stepAggregate},
		{StepMatchIC, false, o.stepMatchIC},
		{StepEliminate, false, o.stepEliminate},
		{StepNCI, false, o.stepNCI},
		{StepGenerateTB, false, o.stepGenerateTB},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			if err := run.Cancel(o.now()); err == nil {
				o.saveBestEffort(run)
			}
			return ctx.Err()
		}
		if step.skip {
			if err := run.SkipStep(step.name, o.now()); err != nil {
				return err
			}
			if err := o.repo.SaveRun(ctx, run); err != nil {
				return err
			}
			continue
		}
		if err := run.BeginStep(step.name, o.now()); err != nil {
			return err
		}
		if err := o.repo.SaveRun(ctx, run); err != nil {
			return err
		}
		stepStart := o.now()
		if err := step.fn(ctx, run, state); err != nil {
			o.metrics.ObserveRunStep(string(step.name), o.now().Sub(stepStart))
			_ = run.FailStep(step.name, err.Error(), o.now())
			_ = run.Fail(o.now(), fmt.Sprintf("step %s: %s", step.name, err.Error()))
			o.saveBestEffort(run)
			o.log().Error("consolidation step failed",
				slog.String("run_id", run.ID.String()),
				slog.String("step", string(step.name)),
				slog.Any("error", err))
			return err
		}
		o.metrics.ObserveRunStep(string(step.name), o.now().Sub(stepStart))
		if err := run.CompleteStep(step.name, o.now()); err != nil {
			return err
		}
		if err := o.repo.SaveRun(ctx, run); err != nil {
			return err
		}
	}

	if err := run.Complete(o.now()); err != nil {
		return err
	}
	if err := o.repo.SaveRun(ctx, run); err != nil {
		return err
	}
	o.log().Info("consolidation run completed",
		slog.String("run_id", run.ID.String()),
		slog.String("group_id", run.GroupID.String()),
		slog.String("period", run.Period))
	return nil
}

// consolidatingMembers selects the members whose balances flow line-by-line
// into the group accounts.
func consolidatingMembers(group Group, opts RunOptions) []Member {
	var members []Member
	for _, member := range group.Members {
		if !member.Enabled {
			continue
		}
		switch member.ConsolidationMethod() {
		case MethodFullConsolidation:
			members = append(members, member)
		case MethodEquity:
			if opts.IncludeEquityMethodInvestments {
				members = append(members, member)
			}
		}
	}
	return members
}

// stepValidate proves double-entry balance on every consolidating member's
// opening trial balance in its functional currency.
func (o *Orchestrator) stepValidate(ctx context.Context, run *Run, state *runState) error {
	result := ValidationResult{AllOK: true}
	for _, member := range state.members {
		lines, err := o.repo.MemberTrialBalanceLines(ctx, member.CompanyID, run.Period)
		if err != nil {
			return err
		}
		mv := MemberValidation{
			CompanyID:  member.CompanyID,
			Currency:   member.FunctionalCurrency,
			Balanced:   true,
			Difference: money.Zero(member.FunctionalCurrency),
		}
		if err := ledger.ValidateBalance(lines, member.FunctionalCurrency); err != nil {
			var unbalanced *ledger.UnbalancedError
			if errors.As(err, &unbalanced) {
				mv.Difference = unbalanced.Difference
			}
			mv.Balanced = false
			mv.Message = err.Error()
			result.AllOK = false
		}
		result.Members = append(result.Members, mv)
	}
	run.Validation = &result
	if !result.AllOK {
		return fmt.Errorf("consol: %d member trial balance(s) out of balance", countUnbalanced(result))
	}
	return nil
}

func countUnbalanced(result ValidationResult) int {
	n := 0
	for _, m := range result.Members {
		if !m.Balanced {
			n++
		}
	}
	return n
}

// stepTranslate converts every consolidating member into the reporting
// currency, fanning out per member. Translation warnings fail the step unless
// the run opts into continuing on warnings.
func (o *Orchestrator) stepTranslate(ctx context.Context, run *Run, state *runState) error {
	results := make([]translate.Result, len(state.members))

	g, gctx := errgroup.WithContext(ctx)
	for i, member := range state.members {
		g.Go(func() error {
			lines, err := o.repo.MemberAccountLines(gctx, member.CompanyID, run.Period)
			if err != nil {
				return fmt.Errorf("member %s: %w", member.CompanyID, err)
			}
			netIncome, dividends, err := o.repo.MemberIncome(gctx, member.CompanyID, run.Period)
			if err != nil {
				return fmt.Errorf("member %s: %w", member.CompanyID, err)
			}
			rates, err := o.repo.MemberRates(gctx, member.CompanyID, run.Period)
			if err != nil {
				return fmt.Errorf("member %s: %w", member.CompanyID, err)
			}
			result, err := o.translator.Translate(translate.Input{
				CompanyID:          member.CompanyID,
				CompanyName:        member.Name,
				FunctionalCurrency: member.FunctionalCurrency,
				ReportingCurrency:  state.group.ReportingCurrency,
				AsOf:               state.endDate,
				Lines:              lines,
				NetIncome:          netIncome,
				DividendsDeclared:  dividends,
				Rates:              rates,
			})
			if err != nil {
				return fmt.Errorf("member %s: %w", member.CompanyID, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	state.translated = make(map[uuid.UUID]translate.Result, len(results))
	var warnings []string
	for i, member := range state.members {
		state.translated[member.CompanyID] = results[i]
		warnings = append(warnings, results[i].Warnings...)
	}
	if len(warnings) > 0 {
		o.log().Warn("translation produced warnings",
			slog.String("run_id", run.ID.String()),
			slog.Int("count", len(warnings)))
		if !run.Options.ContinueOnWarnings {
			return fmt.Errorf("consol: translation warnings: %s", strings.Join(warnings, "; "))
		}
	}
	return nil
}

// stepAggregate folds translated member balance-sheet lines into per-account
// group totals in a debit-positive signed convention: assets keep their sign,
// liabilities and equity are carried negative. Revenue and expense lines are
// not aggregated: their effect arrives through computed closing retained
// earnings, so carrying them as well would double-count income. Calculated
// categories contribute their computed closing values; a member without an
// OCI account still surfaces its CTA through a synthetic line.
func (o *Orchestrator) stepAggregate(_ context.Context, run *Run, state *runState) error {
	reporting := state.group.ReportingCurrency
	state.aggregated = make(map[string]*TrialBalanceLine)

	add := func(account ledger.Account, amount money.Money) error {
		line, ok := state.aggregated[account.Number]
		if !ok {
			line = &TrialBalanceLine{
				AccountID:         account.ID,
				AccountNumber:     account.Number,
				AccountName:       account.Name,
				AggregatedBalance: money.Zero(reporting),
				EliminationAmount: money.Zero(reporting),
			}
			state.aggregated[account.Number] = line
		}
		sum, err := line.AggregatedBalance.Add(amount)
		if err != nil {
			return err
		}
		line.AggregatedBalance = sum
		return nil
	}

	for companyID, result := range state.translated {
		// Closing RE and CTA are member-level computed values: apply each
		// exactly once even when the chart splits the category over several
		// accounts.
		appliedRE := false
		sawOCI := false
		for _, line := range result.Lines {
			switch line.Category {
			case translate.CategoryRetainedEarnings:
				if appliedRE {
					continue
				}
				appliedRE = true
				if err := add(line.Account, result.ClosingRetainedEarnings.Negate()); err != nil {
					return err
				}
			case translate.CategoryOCI:
				if sawOCI {
					continue
				}
				sawOCI = true
				if err := add(line.Account, result.ClosingCTA.Negate()); err != nil {
					return err
				}
			default:
				if line.Account.Type == ledger.TypeRevenue || line.Account.Type == ledger.TypeExpense {
					continue
				}
				if err := add(line.Account, signedBalance(line)); err != nil {
					return err
				}
			}
		}
		if !sawOCI && !result.ClosingCTA.IsZero() {
			cta := ledger.Account{
				ID:       uuid.New(),
				Number:   "3999",
				Name:     "Cumulative Translation Adjustment",
				Type:     ledger.TypeEquity,
				Category: ledger.CategoryOtherComprehensiveIncome,
			}
			if err := add(cta, result.ClosingCTA.Negate()); err != nil {
				return err
			}
			o.log().Debug("synthetic CTA line added",
				slog.String("run_id", run.ID.String()),
				slog.String("company_id", companyID.String()))
		}
	}
	return nil
}

// signedBalance maps a natural-balance translated line into the
// debit-positive convention.
func signedBalance(line translate.TranslatedLine) money.Money {
	switch line.Account.Type {
	case ledger.TypeLiability, ledger.TypeEquity:
		return line.Translated.Negate()
	default:
		return line.Translated
	}
}

// stepMatchIC pairs intercompany transactions and records the matching report.
func (o *Orchestrator) stepMatchIC(ctx context.Context, run *Run, state *runState) error {
	report, err := o.matcher.Match(ctx, run.GroupID, run.Period, o.matching)
	if err != nil {
		return err
	}
	state.matching = &report
	o.log().Info("intercompany matching completed",
		slog.String("run_id", run.ID.String()),
		slog.String("match_rate", report.MatchRate.StringFixed(2)),
		slog.Int("unmatched", len(report.Unmatched)))
	return nil
}

// stepEliminate generates and persists elimination entries, then derives the
// per-account elimination delta for the trial balance.
func (o *Orchestrator) stepEliminate(ctx context.Context, run *Run, state *runState) error {
	result, err := o.generator.Generate(ctx, run.GroupID, run.Period, nil)
	if err != nil {
		return err
	}
	if err := o.repo.SaveEliminationEntries(ctx, result.Entries); err != nil {
		return err
	}

	run.EliminationEntryIDs = run.EliminationEntryIDs[:0]
	var accountIDs []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, entry := range result.Entries {
		run.EliminationEntryIDs = append(run.EliminationEntryIDs, entry.ID)
		for _, line := range entry.Lines {
			if _, ok := seen[line.AccountID]; !ok {
				seen[line.AccountID] = struct{}{}
				accountIDs = append(accountIDs, line.AccountID)
			}
		}
	}

	state.elimDelta = make(map[string]money.Money)
	if len(accountIDs) == 0 {
		return nil
	}
	accounts, err := o.repo.AccountsByID(ctx, accountIDs)
	if err != nil {
		return err
	}
	reporting := state.group.ReportingCurrency
	for _, entry := range result.Entries {
		for _, line := range entry.Lines {
			account, ok := accounts[line.AccountID]
			if !ok {
				return fmt.Errorf("consol: elimination account %s not found", line.AccountID)
			}
			delta, ok := state.elimDelta[account.Number]
			if !ok {
				delta = money.Zero(reporting)
			}
			delta, err = delta.Add(line.Debit)
			if err != nil {
				return err
			}
			delta, err = delta.Subtract(line.Credit)
			if err != nil {
				return err
			}
			state.elimDelta[account.Number] = delta

			if _, ok := state.aggregated[account.Number]; !ok {
				state.aggregated[account.Number] = &TrialBalanceLine{
					AccountID:         account.ID,
					AccountNumber:     account.Number,
					AccountName:       account.Name,
					AggregatedBalance: money.Zero(reporting),
					EliminationAmount: money.Zero(reporting),
				}
			}
		}
	}
	return nil
}

// stepNCI computes the minority-interest summary across subsidiaries.
func (o *Orchestrator) stepNCI(ctx context.Context, run *Run, state *runState) error {
	subs, err := o.repo.SubsidiaryData(ctx, run.GroupID, run.Period)
	if err != nil {
		return err
	}
	summary, err := o.nciCalc.CalculateConsolidated(subs, state.group.ReportingCurrency)
	if err != nil {
		return err
	}
	state.nciSummary = summary
	o.log().Info("NCI calculated",
		slog.String("run_id", run.ID.String()),
		slog.Int("subsidiaries_with_nci", len(summary.SubsidiaryResults)))
	return nil
}

// stepGenerateTB assembles the final trial balance, applies eliminations and
// the NCI presentation line, and proves the double-entry invariant.
func (o *Orchestrator) stepGenerateTB(_ context.Context, run *Run, state *runState) error {
	reporting := state.group.ReportingCurrency
	zero := money.Zero(reporting)

	numbers := make([]string, 0, len(state.aggregated))
	for number := range state.aggregated {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)

	tb := TrialBalance{
		GroupID:           state.group.ID,
		GroupName:         state.group.Name,
		Period:            run.Period,
		ReportingCurrency: reporting,
		Totals: TrialBalanceTotals{
			TotalDebits:       zero,
			TotalCredits:      zero,
			TotalEliminations: zero,
			TotalNCI:          zero,
			Refreshed:         o.now(),
		},
	}
	if state.nciSummary.TotalNCIEquity.Currency() != "" {
		tb.Totals.TotalNCI = state.nciSummary.TotalNCIEquity
	}

	net := zero
	for _, number := range numbers {
		line := *state.aggregated[number]
		if delta, ok := state.elimDelta[number]; ok {
			line.EliminationAmount = delta
		}
		consolidated, err := line.AggregatedBalance.Add(line.EliminationAmount)
		if err != nil {
			return err
		}
		line.ConsolidatedBalance = consolidated

		if consolidated.IsNegative() {
			tb.Totals.TotalCredits, err = tb.Totals.TotalCredits.Add(consolidated.Abs())
		} else {
			tb.Totals.TotalDebits, err = tb.Totals.TotalDebits.Add(consolidated)
		}
		if err != nil {
			return err
		}
		tb.Totals.TotalEliminations, err = tb.Totals.TotalEliminations.Add(line.EliminationAmount.Abs())
		if err != nil {
			return err
		}
		net, err = net.Add(consolidated)
		if err != nil {
			return err
		}
		tb.Lines = append(tb.Lines, line)
	}

	// NCI reclassifies parent equity into a minority line; it never moves the
	// trial balance totals.
	if !tb.Totals.TotalNCI.IsZero() {
		nciAmount := tb.Totals.TotalNCI
		tb.Lines = append(tb.Lines, TrialBalanceLine{
			AccountID:           uuid.New(),
			AccountNumber:       "3950",
			AccountName:         "Non-controlling interests",
			AggregatedBalance:   zero,
			EliminationAmount:   zero,
			NCIAmount:           &nciAmount,
			ConsolidatedBalance: zero,
		})
	}

	tb.Totals.Balanced = net.Abs().Amount().LessThanOrEqual(balanceTolerance)
	run.FinalTrialBalance = &tb
	if !tb.Totals.Balanced {
		return fmt.Errorf("consol: consolidated trial balance out of balance by %s", net.Abs())
	}
	return nil
}

func (o *Orchestrator) saveBestEffort(run *Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.repo.SaveRun(ctx, run); err != nil {
		o.log().Error("saving failed run state",
			slog.String("run_id", run.ID.String()),
			slog.Any("error", err))
	}
}

func (o *Orchestrator) log() *slog.Logger {
	if o != nil && o.logger != nil {
		return o.logger.With(slog.String("component", "consol_orchestrator"))
	}
	return slog.Default().With(slog.String("component", "consol_orchestrator"))
}
