package ic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// Repository describes the persistence operations required by the matcher.
type Repository interface {
	GroupExists(ctx context.Context, groupID uuid.UUID) (bool, error)
	PeriodExists(ctx context.Context, period string) (bool, error)
	TransactionsByGroupAndPeriod(ctx context.Context, groupID uuid.UUID, period string) ([]Transaction, error)
	UpdateMatchingStatus(ctx context.Context, ids []uuid.UUID, status MatchStatus, variance *money.Money, explanation string) error
}

// Matcher pairs intercompany transactions for a group and period.
type Matcher struct {
	repo   Repository
	logger *slog.Logger
}

// NewMatcher wires the matcher dependencies.
func NewMatcher(repo Repository, logger *slog.Logger) *Matcher {
	return &Matcher{repo: repo, logger: logger}
}

type pairKey struct {
	from uuid.UUID
	to   uuid.UUID
}

// Match runs the greedy pairing routine. Each transaction is consumed at most
// once; the first qualifying counterpart in the reverse company pair wins.
func (m *Matcher) Match(ctx context.Context, groupID uuid.UUID, period string, cfg MatchingConfig) (Report, error) {
	if m == nil || m.repo == nil {
		return Report{}, fmt.Errorf("ic: matcher not initialised")
	}
	if cfg.DateToleranceDays < 0 {
		return Report{}, fmt.Errorf("ic: date tolerance must not be negative")
	}

	ok, err := m.repo.GroupExists(ctx, groupID)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, ErrGroupNotFound
	}
	ok, err = m.repo.PeriodExists(ctx, period)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, ErrPeriodNotFound
	}

	transactions, err := m.repo.TransactionsByGroupAndPeriod(ctx, groupID, period)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		GroupID:           groupID,
		Period:            period,
		TotalTransactions: len(transactions),
		TotalVariance:     make(map[string]money.Money),
	}

	groups := make(map[pairKey][]*Transaction)
	for i := range transactions {
		key := pairKey{from: transactions[i].FromCompanyID, to: transactions[i].ToCompanyID}
		groups[key] = append(groups[key], &transactions[i])
	}
	for key := range groups {
		sort.Slice(groups[key], func(i, j int) bool {
			a, b := groups[key][i], groups[key][j]
			if !a.Date.Equal(b.Date) {
				return a.Date.Before(b.Date)
			}
			return a.ID.String() < b.ID.String()
		})
	}

	// Each unordered company pair is processed once: the canonical side is
	// the forward leg, its mirror the reverse leg.
	canonical := make(map[pairKey]struct{})
	for key := range groups {
		a, b := key.from.String(), key.to.String()
		if a > b {
			key = pairKey{from: key.to, to: key.from}
		}
		canonical[key] = struct{}{}
	}
	keys := make([]pairKey, 0, len(canonical))
	for key := range canonical {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from.String() < keys[j].from.String()
		}
		return keys[i].to.String() < keys[j].to.String()
	})

	consumed := make(map[uuid.UUID]bool)
	for _, key := range keys {
		forward := groups[key]
		reverse := groups[pairKey{from: key.to, to: key.from}]
		for _, txn := range forward {
			counterpart, variance, err := m.findCounterpart(*txn, reverse, consumed, cfg)
			if err != nil {
				return Report{}, err
			}
			if counterpart == nil {
				continue
			}
			consumed[txn.ID] = true
			consumed[counterpart.ID] = true

			pair := MatchedPair{
				From:         *txn,
				To:           *counterpart,
				Variance:     variance,
				IsExactMatch: variance.IsZero(),
			}
			report.Pairs = append(report.Pairs, pair)
			report.MatchedPairs++
			if !pair.IsExactMatch {
				report.PartialPairs++
				m.addVariance(&report, variance)
				report.Discrepancies = append(report.Discrepancies, DiscrepancyDetail{
					Description:   fmt.Sprintf("amount variance of %s between %s and %s", variance, txn.ID, counterpart.ID),
					TransactionID: txn.ID,
					CounterpartID: &counterpart.ID,
					Amount:        variance,
				})
			}
		}

		for _, bucket := range [][]*Transaction{forward, reverse} {
			for _, txn := range bucket {
				if !consumed[txn.ID] {
					m.recordUnmatched(&report, *txn)
				}
			}
		}
	}

	report.MatchRate = matchRate(report.MatchedPairs, report.TotalTransactions)

	if err := m.persistStatuses(ctx, report); err != nil {
		return Report{}, err
	}

	m.log().Info("intercompany matching completed",
		slog.String("group_id", groupID.String()),
		slog.String("period", period),
		slog.Int("transactions", report.TotalTransactions),
		slog.Int("pairs", report.MatchedPairs),
		slog.Int("unmatched", len(report.Unmatched)))
	return report, nil
}

// findCounterpart scans the reverse pair for the first unconsumed transaction
// satisfying type, date, currency, and amount tolerance. Greedy first-fit,
// not optimal assignment.
func (m *Matcher) findCounterpart(txn Transaction, reverse []*Transaction, consumed map[uuid.UUID]bool, cfg MatchingConfig) (*Transaction, money.Money, error) {
	for _, candidate := range reverse {
		if consumed[candidate.ID] {
			continue
		}
		if candidate.Type != txn.Type {
			continue
		}
		if daysBetween(txn.Date, candidate.Date) > cfg.DateToleranceDays {
			continue
		}
		if candidate.Amount.Currency() != txn.Amount.Currency() {
			continue
		}
		diff, err := txn.Amount.Subtract(candidate.Amount)
		if err != nil {
			return nil, money.Money{}, err
		}
		variance := diff.Abs()
		if cfg.AmountTolerancePercent.IsZero() {
			if !variance.IsZero() {
				continue
			}
		} else {
			limit := txn.Amount.Abs().Multiply(cfg.AmountTolerancePercent.Div(decimal.NewFromInt(100)))
			exceeds, err := variance.GreaterThan(limit)
			if err != nil {
				return nil, money.Money{}, err
			}
			if exceeds {
				continue
			}
		}
		return candidate, variance, nil
	}
	return nil, money.Money{}, nil
}

// recordUnmatched files a transaction with no counterpart. The counterpart of
// any leg is expected on the books of its receiving company, so the missing
// company follows from the transaction alone.
func (m *Matcher) recordUnmatched(report *Report, txn Transaction) {
	report.Unmatched = append(report.Unmatched, UnmatchedTransaction{
		Transaction:      txn,
		MissingCompanyID: txn.ToCompanyID,
	})
	report.Discrepancies = append(report.Discrepancies, DiscrepancyDetail{
		Description:   fmt.Sprintf("no counterpart recorded for %s on company %s", txn.ID, txn.ToCompanyID),
		TransactionID: txn.ID,
		Amount:        txn.Amount,
	})
}

func (m *Matcher) addVariance(report *Report, variance money.Money) {
	code := variance.Currency()
	total, ok := report.TotalVariance[code]
	if !ok {
		total = money.Zero(code)
	}
	// Same currency by construction.
	total, _ = total.Add(variance)
	report.TotalVariance[code] = total
}

func (m *Matcher) persistStatuses(ctx context.Context, report Report) error {
	var exact []uuid.UUID
	for _, pair := range report.Pairs {
		if pair.IsExactMatch {
			exact = append(exact, pair.From.ID, pair.To.ID)
			continue
		}
		variance := pair.Variance
		ids := []uuid.UUID{pair.From.ID, pair.To.ID}
		if err := m.repo.UpdateMatchingStatus(ctx, ids, StatusPartiallyMatched, &variance, "matched within tolerance"); err != nil {
			return err
		}
	}
	if len(exact) > 0 {
		if err := m.repo.UpdateMatchingStatus(ctx, exact, StatusMatched, nil, ""); err != nil {
			return err
		}
	}
	var unmatched []uuid.UUID
	for _, u := range report.Unmatched {
		unmatched = append(unmatched, u.Transaction.ID)
	}
	if len(unmatched) > 0 {
		if err := m.repo.UpdateMatchingStatus(ctx, unmatched, StatusUnmatched, nil, ""); err != nil {
			return err
		}
	}
	return nil
}

func (m *Matcher) log() *slog.Logger {
	if m != nil && m.logger != nil {
		return m.logger.With(slog.String("component", "ic_matcher"))
	}
	return slog.Default().With(slog.String("component", "ic_matcher"))
}

func matchRate(pairs, total int) decimal.Decimal {
	if total == 0 {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(int64(pairs * 2)).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100))
}

func daysBetween(a, b time.Time) int {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}
