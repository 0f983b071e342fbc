package elim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

// Repository describes the persistence operations required by the generator.
type Repository interface {
	GroupExists(ctx context.Context, groupID uuid.UUID) (bool, error)
	PeriodExists(ctx context.Context, period string) (bool, error)
	GroupCurrency(ctx context.Context, groupID uuid.UUID) (string, error)
	RulesByGroup(ctx context.Context, groupID uuid.UUID) ([]Rule, error)
	BalancesForRule(ctx context.Context, rule Rule, period string) ([]ledger.AccountBalance, error)
}

// Generator applies elimination rules to period balances.
type Generator struct {
	repo   Repository
	logger *slog.Logger
	newID  func() uuid.UUID
	now    func() time.Time
}

// NewGenerator wires the generator dependencies.
func NewGenerator(repo Repository, logger *slog.Logger) *Generator {
	return &Generator{
		repo:   repo,
		logger: logger,
		newID:  uuid.New,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for deterministic tests.
func (g *Generator) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// WithIDSource overrides identifier generation for deterministic tests.
func (g *Generator) WithIDSource(newID func() uuid.UUID) {
	if newID != nil {
		g.newID = newID
	}
}

// Generate runs every active automatic rule for the group in ascending
// priority order (ties keep the stored order). Rules with no matching
// balances, or whose balances net to zero, are recorded as skipped rather
// than failed. Passing rules overrides the stored rule set.
func (g *Generator) Generate(ctx context.Context, groupID uuid.UUID, period string, rules []Rule) (GenerationResult, error) {
	if g == nil || g.repo == nil {
		return GenerationResult{}, fmt.Errorf("elim: generator not initialised")
	}

	ok, err := g.repo.GroupExists(ctx, groupID)
	if err != nil {
		return GenerationResult{}, err
	}
	if !ok {
		return GenerationResult{}, ErrGroupNotFound
	}
	ok, err = g.repo.PeriodExists(ctx, period)
	if err != nil {
		return GenerationResult{}, err
	}
	if !ok {
		return GenerationResult{}, ErrPeriodNotFound
	}

	currency, err := g.repo.GroupCurrency(ctx, groupID)
	if err != nil {
		return GenerationResult{}, err
	}

	if rules == nil {
		rules, err = g.repo.RulesByGroup(ctx, groupID)
		if err != nil {
			return GenerationResult{}, err
		}
	}
	active := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive && rule.IsAutomatic {
			active = append(active, rule)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	result := GenerationResult{
		GroupID:     groupID,
		Period:      period,
		TotalAmount: money.Zero(currency),
	}

	for _, rule := range active {
		balances, err := g.repo.BalancesForRule(ctx, rule, period)
		if err != nil {
			return GenerationResult{}, err
		}
		entries, err := g.applyRule(rule, period, balances, currency)
		if err != nil {
			return GenerationResult{}, err
		}
		if len(entries) == 0 {
			result.SkippedRuleIDs = append(result.SkippedRuleIDs, rule.ID)
			continue
		}
		result.ProcessedRuleIDs = append(result.ProcessedRuleIDs, rule.ID)
		for _, entry := range entries {
			result.Entries = append(result.Entries, entry)
			result.TotalAmount, err = result.TotalAmount.Add(entry.TotalDebits)
			if err != nil {
				return GenerationResult{}, err
			}
		}
	}

	g.log().Info("elimination generation completed",
		slog.String("group_id", groupID.String()),
		slog.String("period", period),
		slog.Int("entries", len(result.Entries)),
		slog.Int("processed_rules", len(result.ProcessedRuleIDs)),
		slog.Int("skipped_rules", len(result.SkippedRuleIDs)))
	return result, nil
}

// applyRule dispatches on the elimination type. Pair-scoped types emit one
// entry per company pair; investment and unrealized-profit types emit a
// single entry from the full sum.
func (g *Generator) applyRule(rule Rule, period string, balances []ledger.AccountBalance, currency string) ([]Entry, error) {
	if len(balances) == 0 {
		return nil, nil
	}
	switch rule.Type {
	case RuleICReceivablePayable, RuleICRevenueExpense, RuleICDividend:
		return g.pairEntries(rule, period, balances, currency)
	case RuleICInvestment, RuleUnrealizedProfitInventory, RuleUnrealizedProfitFixedAssets:
		return g.sumEntry(rule, period, balances, currency)
	default:
		return nil, fmt.Errorf("elim: unknown rule type %q", rule.Type)
	}
}

type companyPair struct {
	a uuid.UUID
	b uuid.UUID
}

// canonicalPair builds an unordered pair key so A->B and B->A balances land
// in the same bucket.
func canonicalPair(companyID, partnerID uuid.UUID) companyPair {
	if companyID.String() > partnerID.String() {
		companyID, partnerID = partnerID, companyID
	}
	return companyPair{a: companyID, b: partnerID}
}

func (g *Generator) pairEntries(rule Rule, period string, balances []ledger.AccountBalance, currency string) ([]Entry, error) {
	pairs := make(map[companyPair][]ledger.AccountBalance)
	var order []companyPair
	for _, balance := range balances {
		if balance.PartnerCompanyID == nil {
			continue
		}
		key := canonicalPair(balance.CompanyID, *balance.PartnerCompanyID)
		if _, seen := pairs[key]; !seen {
			order = append(order, key)
		}
		pairs[key] = append(pairs[key], balance)
	}

	var entries []Entry
	for _, key := range order {
		group := pairs[key]
		if len(group) < 2 {
			continue
		}
		net := money.Zero(currency)
		for _, balance := range group {
			var err error
			net, err = net.Add(balance.Balance)
			if err != nil {
				return nil, err
			}
		}
		if net.IsZero() {
			continue
		}
		entry, err := g.buildEntry(rule, period, net.Abs(),
			fmt.Sprintf("%s elimination between %s and %s", rule.Name, key.a, key.b))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (g *Generator) sumEntry(rule Rule, period string, balances []ledger.AccountBalance, currency string) ([]Entry, error) {
	net := money.Zero(currency)
	for _, balance := range balances {
		var err error
		net, err = net.Add(balance.Balance)
		if err != nil {
			return nil, err
		}
	}
	if net.IsZero() {
		return nil, nil
	}
	entry, err := g.buildEntry(rule, period, net.Abs(), rule.Name+" elimination")
	if err != nil {
		return nil, err
	}
	return []Entry{entry}, nil
}

func (g *Generator) buildEntry(rule Rule, period string, amount money.Money, description string) (Entry, error) {
	entry := Entry{
		ID:          g.newID(),
		RuleID:      rule.ID,
		GroupID:     rule.GroupID,
		Period:      period,
		Description: description,
		Lines: []EntryLine{
			{ID: g.newID(), AccountID: rule.DebitAccountID, Debit: amount, Credit: money.Zero(amount.Currency()), Memo: description},
			{ID: g.newID(), AccountID: rule.CreditAccountID, Debit: money.Zero(amount.Currency()), Credit: amount, Memo: description},
		},
		TotalDebits:  amount,
		TotalCredits: amount,
		GeneratedAt:  g.now(),
	}
	return entry, nil
}

func (g *Generator) log() *slog.Logger {
	if g != nil && g.logger != nil {
		return g.logger.With(slog.String("component", "elim_generator"))
	}
	return slog.Default().With(slog.String("component", "elim_generator"))
}
