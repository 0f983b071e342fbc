package elim

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

type stubRepo struct {
	groupExists  bool
	periodExists bool
	currency     string
	rules        []Rule
	balances     map[uuid.UUID][]ledger.AccountBalance // keyed by rule id
}

func (s *stubRepo) GroupExists(_ context.Context, _ uuid.UUID) (bool, error) {
	return s.groupExists, nil
}

func (s *stubRepo) PeriodExists(_ context.Context, _ string) (bool, error) {
	return s.periodExists, nil
}

func (s *stubRepo) GroupCurrency(_ context.Context, _ uuid.UUID) (string, error) {
	return s.currency, nil
}

func (s *stubRepo) RulesByGroup(_ context.Context, _ uuid.UUID) ([]Rule, error) {
	return s.rules, nil
}

func (s *stubRepo) BalancesForRule(_ context.Context, rule Rule, _ string) ([]ledger.AccountBalance, error) {
	return s.balances[rule.ID], nil
}

func usd(t *testing.T, amount string) money.Money {
	t.Helper()
	m, err := money.NewFromString(amount, "USD")
	require.NoError(t, err)
	return m
}

func icBalance(company, partner uuid.UUID, amount money.Money) ledger.AccountBalance {
	return ledger.AccountBalance{
		Account:          ledger.Account{ID: uuid.New(), Number: "1310", Type: ledger.TypeAsset, Category: "ICReceivable"},
		CompanyID:        company,
		Balance:          amount,
		PartnerCompanyID: &partner,
	}
}

func arApRule(groupID uuid.UUID, priority int) Rule {
	return Rule{
		ID:              uuid.New(),
		GroupID:         groupID,
		Name:            "IC AR/AP",
		Type:            RuleICReceivablePayable,
		SourceSelector:  AccountSelector{Kind: SelectByCategory, Category: "ICReceivable"},
		TargetSelector:  AccountSelector{Kind: SelectByCategory, Category: "ICPayable"},
		DebitAccountID:  uuid.New(),
		CreditAccountID: uuid.New(),
		Priority:        priority,
		IsAutomatic:     true,
		IsActive:        true,
	}
}

func TestGenerateSelfBalancedPairEntry(t *testing.T) {
	groupID := uuid.New()
	companyA, companyB := uuid.New(), uuid.New()
	rule := arApRule(groupID, 10)
	repo := &stubRepo{
		groupExists:  true,
		periodExists: true,
		currency:     "USD",
		rules:        []Rule{rule},
		// Receivable on A's books against a smaller payable on B's: the
		// net residual of 600 is what gets eliminated.
		balances: map[uuid.UUID][]ledger.AccountBalance{
			rule.ID: {
				icBalance(companyA, companyB, usd(t, "1500")),
				icBalance(companyB, companyA, usd(t, "-900")),
			},
		},
	}

	gen := NewGenerator(repo, nil)
	result, err := gen.Generate(context.Background(), groupID, "2025-06", nil)
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	require.Len(t, entry.Lines, 2)
	require.True(t, entry.TotalDebits.Equal(entry.TotalCredits))
	require.True(t, entry.TotalDebits.Equal(usd(t, "600")))
	require.Equal(t, rule.DebitAccountID, entry.Lines[0].AccountID)
	require.Equal(t, rule.CreditAccountID, entry.Lines[1].AccountID)
	require.Equal(t, rule.ID, entry.RuleID)
	require.False(t, entry.IsPosted)
	require.Nil(t, entry.JournalEntryID)
	require.Equal(t, []uuid.UUID{rule.ID}, result.ProcessedRuleIDs)
}

func TestGeneratePriorityOrdering(t *testing.T) {
	groupID := uuid.New()
	companyA, companyB := uuid.New(), uuid.New()
	r20 := arApRule(groupID, 20)
	r5 := arApRule(groupID, 5)
	r100 := arApRule(groupID, 100)
	balances := []ledger.AccountBalance{
		icBalance(companyA, companyB, usd(t, "100")),
		icBalance(companyB, companyA, usd(t, "-40")),
	}
	repo := &stubRepo{
		groupExists:  true,
		periodExists: true,
		currency:     "USD",
		rules:        []Rule{r20, r5, r100},
		balances: map[uuid.UUID][]ledger.AccountBalance{
			r20.ID:  balances,
			r5.ID:   balances,
			r100.ID: balances,
		},
	}

	result, err := NewGenerator(repo, nil).Generate(context.Background(), groupID, "2025-06", nil)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{r5.ID, r20.ID, r100.ID}, result.ProcessedRuleIDs)
}

func TestGenerateSkipsEmptyAndZeroNetRules(t *testing.T) {
	groupID := uuid.New()
	companyA, companyB := uuid.New(), uuid.New()
	empty := arApRule(groupID, 1)
	zeroNet := arApRule(groupID, 2)
	repo := &stubRepo{
		groupExists:  true,
		periodExists: true,
		currency:     "USD",
		rules:        []Rule{empty, zeroNet},
		balances: map[uuid.UUID][]ledger.AccountBalance{
			zeroNet.ID: {
				icBalance(companyA, companyB, usd(t, "750")),
				icBalance(companyB, companyA, usd(t, "-750")),
			},
		},
	}

	result, err := NewGenerator(repo, nil).Generate(context.Background(), groupID, "2025-06", nil)
	require.NoError(t, err)
	require.Empty(t, result.Entries)
	require.Empty(t, result.ProcessedRuleIDs)
	require.ElementsMatch(t, []uuid.UUID{empty.ID, zeroNet.ID}, result.SkippedRuleIDs)
	require.True(t, result.TotalAmount.IsZero())
}

func TestGenerateInvestmentSumsAllBalances(t *testing.T) {
	groupID := uuid.New()
	rule := arApRule(groupID, 10)
	rule.Type = RuleICInvestment
	rule.Name = "IC Investment"
	companyA, companyB, companyC := uuid.New(), uuid.New(), uuid.New()
	repo := &stubRepo{
		groupExists:  true,
		periodExists: true,
		currency:     "USD",
		rules:        []Rule{rule},
		balances: map[uuid.UUID][]ledger.AccountBalance{
			rule.ID: {
				icBalance(companyA, companyB, usd(t, "300")),
				icBalance(companyA, companyC, usd(t, "200")),
				icBalance(companyB, companyC, usd(t, "-100")),
			},
		},
	}

	result, err := NewGenerator(repo, nil).Generate(context.Background(), groupID, "2025-06", nil)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1, "investment rules emit a single whole-sum entry")
	require.True(t, result.Entries[0].TotalDebits.Equal(usd(t, "400")))
}

func TestGenerateIgnoresInactiveAndManualRules(t *testing.T) {
	groupID := uuid.New()
	companyA, companyB := uuid.New(), uuid.New()
	inactive := arApRule(groupID, 1)
	inactive.IsActive = false
	manual := arApRule(groupID, 2)
	manual.IsAutomatic = false
	balances := []ledger.AccountBalance{
		icBalance(companyA, companyB, usd(t, "100")),
		icBalance(companyB, companyA, usd(t, "-60")),
	}
	repo := &stubRepo{
		groupExists:  true,
		periodExists: true,
		currency:     "USD",
		rules:        []Rule{inactive, manual},
		balances: map[uuid.UUID][]ledger.AccountBalance{
			inactive.ID: balances,
			manual.ID:   balances,
		},
	}

	result, err := NewGenerator(repo, nil).Generate(context.Background(), groupID, "2025-06", nil)
	require.NoError(t, err)
	require.Empty(t, result.Entries)
	require.Empty(t, result.SkippedRuleIDs, "filtered rules are not even skipped")
}

func TestGeneratePreconditions(t *testing.T) {
	repo := &stubRepo{groupExists: false, periodExists: true, currency: "USD"}
	_, err := NewGenerator(repo, nil).Generate(context.Background(), uuid.New(), "2025-06", nil)
	require.ErrorIs(t, err, ErrGroupNotFound)

	repo = &stubRepo{groupExists: true, periodExists: false, currency: "USD"}
	_, err = NewGenerator(repo, nil).Generate(context.Background(), uuid.New(), "2025-06", nil)
	require.ErrorIs(t, err, ErrPeriodNotFound)
}

func TestSelectorDispatch(t *testing.T) {
	id := uuid.New()
	account := ledger.Account{ID: id, Number: "1350", Category: "ICReceivable"}

	require.True(t, AccountSelector{Kind: SelectByID, AccountIDs: []uuid.UUID{id}}.Matches(account))
	require.False(t, AccountSelector{Kind: SelectByID, AccountIDs: []uuid.UUID{uuid.New()}}.Matches(account))
	require.True(t, AccountSelector{Kind: SelectByRange, RangeStart: "1300", RangeEnd: "1399"}.Matches(account))
	require.False(t, AccountSelector{Kind: SelectByRange, RangeStart: "1400", RangeEnd: "1499"}.Matches(account))
	require.True(t, AccountSelector{Kind: SelectByCategory, Category: "ICReceivable"}.Matches(account))
	require.False(t, AccountSelector{Kind: SelectByCategory, Category: "ICPayable"}.Matches(account))
	require.False(t, AccountSelector{}.Matches(account))
}

func TestGenerateRuleOverride(t *testing.T) {
	groupID := uuid.New()
	companyA, companyB := uuid.New(), uuid.New()
	stored := arApRule(groupID, 1)
	override := arApRule(groupID, 1)
	repo := &stubRepo{
		groupExists:  true,
		periodExists: true,
		currency:     "USD",
		rules:        []Rule{stored},
		balances: map[uuid.UUID][]ledger.AccountBalance{
			override.ID: {
				icBalance(companyA, companyB, usd(t, "100")),
				icBalance(companyB, companyA, usd(t, "-75")),
			},
		},
	}

	result, err := NewGenerator(repo, nil).Generate(context.Background(), groupID, "2025-06", []Rule{override})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{override.ID}, result.ProcessedRuleIDs)
}
