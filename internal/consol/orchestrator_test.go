package consol

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian-consol/internal/consol/elim"
	"github.com/meridian-fin/meridian-consol/internal/consol/ic"
	"github.com/meridian-fin/meridian-consol/internal/consol/nci"
	"github.com/meridian-fin/meridian-consol/internal/consol/translate"
	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
	"github.com/meridian-fin/meridian-consol/internal/observability"
)

func usd(t *testing.T, amount string) money.Money {
	t.Helper()
	m, err := money.NewFromString(amount, "USD")
	require.NoError(t, err)
	return m
}

func eur(t *testing.T, amount string) money.Money {
	t.Helper()
	m, err := money.NewFromString(amount, "EUR")
	require.NoError(t, err)
	return m
}

func pct(t *testing.T, value string) money.Percent {
	t.Helper()
	p, err := money.NewPercentFromString(value)
	require.NoError(t, err)
	return p
}

// stubRepo satisfies the orchestrator, matcher, and generator repository
// contracts from in-memory fixtures.
type stubRepo struct {
	group    Group
	endDate  time.Time
	tbLines  map[uuid.UUID][]ledger.JournalLine
	lines    map[uuid.UUID][]translate.AccountLine
	income   map[uuid.UUID][2]money.Money
	rates    map[uuid.UUID]translate.Rates
	subs     []nci.SubsidiaryData
	accounts map[uuid.UUID]ledger.Account
	rules    []elim.Rule
	balances map[uuid.UUID][]ledger.AccountBalance
	txns     []ic.Transaction

	runs          map[uuid.UUID]*Run
	savedEntries  []elim.Entry
	saveCount     int
	matchStatuses map[ic.MatchStatus]int
}

func (s *stubRepo) GroupExists(_ context.Context, id uuid.UUID) (bool, error) {
	return id == s.group.ID, nil
}

func (s *stubRepo) PeriodExists(_ context.Context, period string) (bool, error) {
	return period == "2025-06", nil
}

func (s *stubRepo) Group(_ context.Context, id uuid.UUID) (Group, error) {
	if id != s.group.ID {
		return Group{}, ErrGroupNotFound
	}
	return s.group, nil
}

func (s *stubRepo) GroupCurrency(_ context.Context, _ uuid.UUID) (string, error) {
	return s.group.ReportingCurrency, nil
}

func (s *stubRepo) PeriodEndDate(_ context.Context, _ string) (time.Time, error) {
	return s.endDate, nil
}

func (s *stubRepo) MemberTrialBalanceLines(_ context.Context, companyID uuid.UUID, _ string) ([]ledger.JournalLine, error) {
	return s.tbLines[companyID], nil
}

func (s *stubRepo) MemberAccountLines(_ context.Context, companyID uuid.UUID, _ string) ([]translate.AccountLine, error) {
	return s.lines[companyID], nil
}

func (s *stubRepo) MemberIncome(_ context.Context, companyID uuid.UUID, _ string) (money.Money, money.Money, error) {
	pair := s.income[companyID]
	return pair[0], pair[1], nil
}

func (s *stubRepo) MemberRates(_ context.Context, companyID uuid.UUID, _ string) (translate.Rates, error) {
	return s.rates[companyID], nil
}

func (s *stubRepo) SubsidiaryData(_ context.Context, _ uuid.UUID, _ string) ([]nci.SubsidiaryData, error) {
	return s.subs, nil
}

func (s *stubRepo) AccountsByID(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	for _, id := range ids {
		if account, ok := s.accounts[id]; ok {
			out[id] = account
		}
	}
	return out, nil
}

func (s *stubRepo) RulesByGroup(_ context.Context, _ uuid.UUID) ([]elim.Rule, error) {
	return s.rules, nil
}

func (s *stubRepo) BalancesForRule(_ context.Context, rule elim.Rule, _ string) ([]ledger.AccountBalance, error) {
	return s.balances[rule.ID], nil
}

func (s *stubRepo) TransactionsByGroupAndPeriod(_ context.Context, _ uuid.UUID, _ string) ([]ic.Transaction, error) {
	return s.txns, nil
}

func (s *stubRepo) UpdateMatchingStatus(_ context.Context, ids []uuid.UUID, status ic.MatchStatus, _ *money.Money, _ string) error {
	if s.matchStatuses == nil {
		s.matchStatuses = make(map[ic.MatchStatus]int)
	}
	s.matchStatuses[status] += len(ids)
	return nil
}

func (s *stubRepo) SaveRun(_ context.Context, run *Run) error {
	if s.runs == nil {
		s.runs = make(map[uuid.UUID]*Run)
	}
	s.runs[run.ID] = run
	s.saveCount++
	return nil
}

func (s *stubRepo) LoadRun(_ context.Context, id uuid.UUID) (*Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

func (s *stubRepo) FindRunByGroupAndPeriod(_ context.Context, groupID uuid.UUID, period string) (*Run, error) {
	for _, run := range s.runs {
		if run.GroupID == groupID && run.Period == period {
			return run, nil
		}
	}
	return nil, ErrRunNotFound
}

func (s *stubRepo) SaveEliminationEntries(_ context.Context, entries []elim.Entry) error {
	s.savedEntries = append(s.savedEntries, entries...)
	return nil
}

func account(number, name string, accountType ledger.AccountType, category string) ledger.Account {
	return ledger.Account{ID: uuid.New(), Number: number, Name: name, Type: accountType, Category: category}
}

// newFixture builds a two-member group: a USD parent and an 80%-owned EUR
// subsidiary whose capital stock carries a historical rate.
func newFixture(t *testing.T) (*stubRepo, uuid.UUID, uuid.UUID) {
	t.Helper()
	parentID := uuid.New()
	subID := uuid.New()
	groupID := uuid.New()

	repo := &stubRepo{
		group: Group{
			ID:                groupID,
			Name:              "Meridian Group",
			ParentCompanyID:   parentID,
			ReportingCurrency: "USD",
			Members: []Member{
				{CompanyID: parentID, Name: "Meridian Corp", FunctionalCurrency: "USD", Ownership: pct(t, "100"), Enabled: true},
				{CompanyID: subID, Name: "Meridian EU", FunctionalCurrency: "EUR", Ownership: pct(t, "80"), Enabled: true},
			},
		},
		endDate: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}

	cashP := account("1000", "Cash", ledger.TypeAsset, "")
	apP := account("2000", "Accounts payable", ledger.TypeLiability, "")
	capP := account("3000", "Share capital", ledger.TypeEquity, ledger.CategoryContributedCapital)
	reP := account("3100", "Retained earnings", ledger.TypeEquity, ledger.CategoryRetainedEarnings)

	cashS := account("1000", "Cash", ledger.TypeAsset, "")
	loanS := account("2000", "Loans payable", ledger.TypeLiability, "")
	capS := account("3000", "Share capital", ledger.TypeEquity, ledger.CategoryContributedCapital)
	reS := account("3100", "Retained earnings", ledger.TypeEquity, ledger.CategoryRetainedEarnings)

	repo.lines = map[uuid.UUID][]translate.AccountLine{
		parentID: {
			{Account: cashP, Balance: usd(t, "1000")},
			{Account: apP, Balance: usd(t, "500")},
			{Account: capP, Balance: usd(t, "300")},
			{Account: reP, Balance: usd(t, "200")},
		},
		subID: {
			{Account: cashS, Balance: eur(t, "1000")},
			{Account: loanS, Balance: eur(t, "400")},
			{Account: capS, Balance: eur(t, "500")},
			{Account: reS, Balance: eur(t, "100")},
		},
	}
	repo.income = map[uuid.UUID][2]money.Money{
		parentID: {money.Zero("USD"), money.Zero("USD")},
		subID:    {eur(t, "100"), money.Zero("EUR")},
	}
	repo.rates = map[uuid.UUID]translate.Rates{
		parentID: {TranslatedOpeningRE: usd(t, "200")},
		subID: {
			Closing:             decimal.NewFromFloat(1.1),
			Average:             decimal.NewFromFloat(1.05),
			Historical:          map[string]decimal.Decimal{"3000": decimal.NewFromFloat(1.2)},
			TranslatedOpeningRE: usd(t, "40"),
		},
	}

	debit := usd(t, "1")
	repo.tbLines = map[uuid.UUID][]ledger.JournalLine{}
	for _, companyID := range []uuid.UUID{parentID} {
		d, c := debit, debit
		repo.tbLines[companyID] = []ledger.JournalLine{{AccountID: cashP.ID, Debit: &d}, {AccountID: apP.ID, Credit: &c}}
	}
	de, ce := eur(t, "1"), eur(t, "1")
	repo.tbLines[subID] = []ledger.JournalLine{{AccountID: cashS.ID, Debit: &de}, {AccountID: loanS.ID, Credit: &ce}}

	// IC receivable/payable rule netting to a 30 USD residual.
	icRecv := account("1310", "IC receivable", ledger.TypeAsset, "ICReceivable")
	icPay := account("2150", "IC payable", ledger.TypeLiability, "ICPayable")
	rule := elim.Rule{
		ID:              uuid.New(),
		GroupID:         groupID,
		Name:            "IC AR/AP",
		Type:            elim.RuleICReceivablePayable,
		SourceSelector:  elim.AccountSelector{Kind: elim.SelectByCategory, Category: "ICReceivable"},
		TargetSelector:  elim.AccountSelector{Kind: elim.SelectByCategory, Category: "ICPayable"},
		DebitAccountID:  icPay.ID,
		CreditAccountID: icRecv.ID,
		Priority:        10,
		IsAutomatic:     true,
		IsActive:        true,
	}
	repo.rules = []elim.Rule{rule}
	repo.balances = map[uuid.UUID][]ledger.AccountBalance{
		rule.ID: {
			{Account: icRecv, CompanyID: parentID, Balance: usd(t, "250"), PartnerCompanyID: &subID},
			{Account: icPay, CompanyID: subID, Balance: usd(t, "-220"), PartnerCompanyID: &parentID},
		},
	}
	repo.accounts = map[uuid.UUID]ledger.Account{
		icRecv.ID: icRecv,
		icPay.ID:  icPay,
	}

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	repo.txns = []ic.Transaction{
		{ID: uuid.New(), FromCompanyID: parentID, ToCompanyID: subID, Type: ic.TypeLoan, Date: day, Amount: usd(t, "250"), Status: ic.StatusUnmatched},
		{ID: uuid.New(), FromCompanyID: subID, ToCompanyID: parentID, Type: ic.TypeLoan, Date: day, Amount: usd(t, "250"), Status: ic.StatusUnmatched},
	}

	repo.subs = []nci.SubsidiaryData{
		{
			CompanyID:              subID,
			CompanyName:            "Meridian EU",
			Ownership:              pct(t, "80"),
			FairValueAtAcquisition: usd(t, "1000"),
			NetIncome:              usd(t, "105"),
		},
	}
	return repo, groupID, subID
}

func newTestOrchestrator(repo *stubRepo) *Orchestrator {
	translator := translate.NewEngine(nil)
	matcher := ic.NewMatcher(repo, nil)
	generator := elim.NewGenerator(repo, nil)
	calc := nci.NewCalculator(nil)
	orch := NewOrchestrator(repo, translator, matcher, generator, calc, nil)
	orch.WithClock(func() time.Time { return testNow })
	return orch
}

func lineByNumber(t *testing.T, tb *TrialBalance, number string) TrialBalanceLine {
	t.Helper()
	for _, line := range tb.Lines {
		if line.AccountNumber == number {
			return line
		}
	}
	t.Fatalf("no trial balance line %s", number)
	return TrialBalanceLine{}
}

func TestExecuteFullRun(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{}, testNow)

	require.NoError(t, orch.Execute(context.Background(), run))
	require.Equal(t, RunStatusCompleted, run.Status)
	require.InDelta(t, 100.0, run.ProgressPercent(), 0.001)
	for _, step := range run.Steps {
		require.Equal(t, StepStatusCompleted, step.Status, string(step.Name))
	}

	require.NotNil(t, run.Validation)
	require.True(t, run.Validation.AllOK)
	require.Len(t, run.EliminationEntryIDs, 1)
	require.Len(t, repo.savedEntries, 1)

	tb := run.FinalTrialBalance
	require.NotNil(t, tb)
	require.True(t, tb.Totals.Balanced)
	require.True(t, tb.Totals.TotalDebits.Equal(tb.Totals.TotalCredits))

	// Parent cash 1000 + subsidiary cash 1000 EUR at closing 1.1.
	require.True(t, lineByNumber(t, tb, "1000").ConsolidatedBalance.Equal(usd(t, "2100")))
	// Capital stock at the historical rate: 300 + 500 x 1.2, credit side.
	require.True(t, lineByNumber(t, tb, "3000").ConsolidatedBalance.Equal(usd(t, "-900")))
	// Computed closing RE: parent 200 + subsidiary 40 + 100 EUR NI at 1.05.
	require.True(t, lineByNumber(t, tb, "3100").ConsolidatedBalance.Equal(usd(t, "-345")))
	// CTA plug for the subsidiary surfaces on a synthetic equity line.
	require.True(t, lineByNumber(t, tb, "3999").ConsolidatedBalance.Equal(usd(t, "85")))
	// The 30 USD intercompany residual is eliminated symmetrically.
	require.True(t, lineByNumber(t, tb, "2150").EliminationAmount.Equal(usd(t, "30")))
	require.True(t, lineByNumber(t, tb, "1310").EliminationAmount.Equal(usd(t, "-30")))
	require.True(t, tb.Totals.TotalEliminations.Equal(usd(t, "60")))

	// NCI: 20% of 1000 fair value plus 20% of 105 net income.
	require.True(t, tb.Totals.TotalNCI.Equal(usd(t, "221")))
	nciLine := lineByNumber(t, tb, "3950")
	require.NotNil(t, nciLine.NCIAmount)
	require.True(t, nciLine.NCIAmount.Equal(usd(t, "221")))
	require.True(t, nciLine.ConsolidatedBalance.IsZero())
}

func TestExecuteHaltsOnUnbalancedMember(t *testing.T) {
	repo, groupID, subID := newFixture(t)
	bad := usd(t, "5")
	repo.tbLines[subID][0].Debit = nil
	repo.tbLines[subID][0].Credit = &bad

	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{}, testNow)

	err := orch.Execute(context.Background(), run)
	require.Error(t, err)
	require.Equal(t, RunStatusFailed, run.Status)
	require.Equal(t, StepStatusFailed, run.Steps[0].Status)
	require.NotEmpty(t, run.Steps[0].ErrorMessage)
	// Later steps never started.
	for _, step := range run.Steps[1:] {
		require.Equal(t, StepStatusPending, step.Status, string(step.Name))
	}
	require.NotNil(t, run.Validation)
	require.False(t, run.Validation.AllOK)
}

func TestExecuteSkipValidation(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{SkipValidation: true}, testNow)

	require.NoError(t, orch.Execute(context.Background(), run))
	require.Equal(t, RunStatusCompleted, run.Status)
	require.Equal(t, StepStatusSkipped, run.Steps[0].Status)
	require.Nil(t, run.Validation)
}

func TestExecuteCancelledBetweenSteps(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{}, testNow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := orch.Execute(ctx, run)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, RunStatusCancelled, run.Status)
}

func TestExecuteWarningsHaltWithoutOptIn(t *testing.T) {
	repo, groupID, subID := newFixture(t)
	rates := repo.rates[subID]
	rates.Historical = nil
	repo.rates[subID] = rates

	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{}, testNow)
	err := orch.Execute(context.Background(), run)
	require.Error(t, err)
	require.Equal(t, RunStatusFailed, run.Status)
	require.Equal(t, StepStatusFailed, run.Steps[1].Status)
}

func TestExecuteWarningsContinueWhenOptedIn(t *testing.T) {
	repo, groupID, subID := newFixture(t)
	rates := repo.rates[subID]
	rates.Historical = nil
	repo.rates[subID] = rates

	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{ContinueOnWarnings: true}, testNow)
	require.NoError(t, orch.Execute(context.Background(), run))
	require.Equal(t, RunStatusCompleted, run.Status)
	// CTA absorbs the fallback: capital stock at closing instead of
	// historical shifts the plug, the sheet still balances.
	require.True(t, run.FinalTrialBalance.Totals.Balanced)
	require.True(t, lineByNumber(t, run.FinalTrialBalance, "3000").ConsolidatedBalance.Equal(usd(t, "-850")))
	require.True(t, lineByNumber(t, run.FinalTrialBalance, "3999").ConsolidatedBalance.Equal(usd(t, "35")))
}

func TestExecuteRecordsStepDurations(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	orch := newTestOrchestrator(repo)
	metrics := observability.NewMetrics()
	orch.WithMetrics(metrics)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{}, testNow)

	require.NoError(t, orch.Execute(context.Background(), run))

	series, err := testutil.GatherAndCount(metrics.Gatherer(), "meridian_consolidation_step_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, len(StepOrder), series, "one histogram series per executed step")
}

func TestExecuteUsesConfiguredMatchingTolerances(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	repo.txns[1].Amount = usd(t, "249")
	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{}, testNow)
	require.NoError(t, orch.Execute(context.Background(), run))
	// Default tolerances demand exact amounts.
	require.Equal(t, 2, repo.matchStatuses[ic.StatusUnmatched])

	repo2, groupID2, _ := newFixture(t)
	repo2.txns[1].Amount = usd(t, "249")
	orch2 := newTestOrchestrator(repo2)
	orch2.WithMatchingConfig(ic.MatchingConfig{
		DateToleranceDays:      3,
		AmountTolerancePercent: decimal.NewFromInt(1),
	})
	run2 := NewRun(groupID2, "2025-06", repo2.endDate, RunOptions{}, testNow)
	require.NoError(t, orch2.Execute(context.Background(), run2))
	require.Equal(t, 2, repo2.matchStatuses[ic.StatusPartiallyMatched])
	require.Zero(t, repo2.matchStatuses[ic.StatusUnmatched])
}

func TestAggregateAppliesClosingEquityOncePerMember(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	parentID := repo.group.ParentCompanyID

	// Split the parent's retained earnings over two accounts; the computed
	// closing balance must still land exactly once.
	var split []translate.AccountLine
	for _, line := range repo.lines[parentID] {
		if line.Account.Number == "3100" {
			first := line
			first.Balance = usd(t, "150")
			second := translate.AccountLine{
				Account: account("3110", "Retained earnings, appropriated", ledger.TypeEquity, ledger.CategoryRetainedEarnings),
				Balance: usd(t, "50"),
			}
			split = append(split, first, second)
			continue
		}
		split = append(split, line)
	}
	repo.lines[parentID] = split

	orch := newTestOrchestrator(repo)
	run := NewRun(groupID, "2025-06", repo.endDate, RunOptions{}, testNow)
	require.NoError(t, orch.Execute(context.Background(), run))

	tb := run.FinalTrialBalance
	require.NotNil(t, tb)
	require.True(t, tb.Totals.Balanced)
	require.True(t, lineByNumber(t, tb, "3100").ConsolidatedBalance.Equal(usd(t, "-345")))
	for _, line := range tb.Lines {
		require.NotEqual(t, "3110", line.AccountNumber)
	}
}

func TestServiceStartRun(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	svc := NewService(repo, repo, repo, nil)
	svc.WithClock(func() time.Time { return testNow })

	run, err := svc.StartRun(context.Background(), StartRunRequest{GroupID: groupID, Period: "2025-06"})
	require.NoError(t, err)
	require.Equal(t, RunStatusPending, run.Status)

	// An active run blocks a second one.
	_, err = svc.StartRun(context.Background(), StartRunRequest{GroupID: groupID, Period: "2025-06"})
	require.ErrorIs(t, err, ErrRunActive)

	// A completed run is reused unless regeneration is forced.
	require.NoError(t, svc.ExecuteRun(context.Background(), run.ID))
	again, err := svc.StartRun(context.Background(), StartRunRequest{GroupID: groupID, Period: "2025-06"})
	require.NoError(t, err)
	require.Equal(t, run.ID, again.ID)

	fresh, err := svc.StartRun(context.Background(), StartRunRequest{
		GroupID: groupID,
		Period:  "2025-06",
		Options: RunOptions{ForceRegeneration: true},
	})
	require.NoError(t, err)
	require.NotEqual(t, run.ID, fresh.ID)
}

func TestServiceStartRunValidation(t *testing.T) {
	repo, groupID, _ := newFixture(t)
	svc := NewService(repo, repo, repo, nil)

	_, err := svc.StartRun(context.Background(), StartRunRequest{GroupID: groupID, Period: "June 2025"})
	require.Error(t, err)

	_, err = svc.StartRun(context.Background(), StartRunRequest{GroupID: uuid.New(), Period: "2025-06"})
	require.ErrorIs(t, err, ErrGroupNotFound)
}
