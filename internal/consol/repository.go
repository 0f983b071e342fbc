package consol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian-consol/internal/consol/elim"
	"github.com/meridian-fin/meridian-consol/internal/consol/ic"
	"github.com/meridian-fin/meridian-consol/internal/consol/nci"
	"github.com/meridian-fin/meridian-consol/internal/consol/translate"
	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

// PostgresRepository implements the orchestrator, matcher, and elimination
// generator persistence contracts over one connection pool. Runs store their
// step array and options as JSONB inside the run row.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var (
	_ Repository      = (*PostgresRepository)(nil)
	_ ic.Repository   = (*PostgresRepository)(nil)
	_ elim.Repository = (*PostgresRepository)(nil)
)

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GroupExists reports whether the consolidation group is registered.
func (r *PostgresRepository) GroupExists(ctx context.Context, groupID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM consolidation_groups WHERE id = $1)`, groupID).Scan(&exists)
	return exists, err
}

// PeriodExists reports whether the fiscal period is registered.
func (r *PostgresRepository) PeriodExists(ctx context.Context, period string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM fiscal_periods WHERE code = $1)`, period).Scan(&exists)
	return exists, err
}

// Group loads a consolidation group with its members.
func (r *PostgresRepository) Group(ctx context.Context, groupID uuid.UUID) (Group, error) {
	var group Group
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, parent_company_id, reporting_currency
		   FROM consolidation_groups WHERE id = $1`, groupID).
		Scan(&group.ID, &group.Name, &group.ParentCompanyID, &group.ReportingCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT company_id, name, functional_currency, ownership_percent,
		        is_vie_primary_beneficiary, enabled
		   FROM consolidation_members WHERE group_id = $1 ORDER BY name`, groupID)
	if err != nil {
		return Group{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var member Member
		var ownership pgtype.Numeric
		if err := rows.Scan(&member.CompanyID, &member.Name, &member.FunctionalCurrency,
			&ownership, &member.IsVIEPrimaryBeneficiary, &member.Enabled); err != nil {
			return Group{}, err
		}
		pct, err := money.NewPercent(numericToDecimal(ownership))
		if err != nil {
			return Group{}, fmt.Errorf("consol: member %s: %w", member.CompanyID, err)
		}
		member.Ownership = pct
		group.Members = append(group.Members, member)
	}
	return group, rows.Err()
}

// GroupCurrency returns the group's reporting currency.
func (r *PostgresRepository) GroupCurrency(ctx context.Context, groupID uuid.UUID) (string, error) {
	var ccy string
	err := r.pool.QueryRow(ctx,
		`SELECT reporting_currency FROM consolidation_groups WHERE id = $1`, groupID).Scan(&ccy)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrGroupNotFound
	}
	return ccy, err
}

// PeriodEndDate returns the closing date of a fiscal period.
func (r *PostgresRepository) PeriodEndDate(ctx context.Context, period string) (time.Time, error) {
	var end pgtype.Date
	err := r.pool.QueryRow(ctx,
		`SELECT end_date FROM fiscal_periods WHERE code = $1`, period).Scan(&end)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrPeriodNotFound
	}
	return end.Time, err
}

// MemberTrialBalanceLines loads the raw debit/credit lines for a member's
// period trial balance.
func (r *PostgresRepository) MemberTrialBalanceLines(ctx context.Context, companyID uuid.UUID, period string) ([]ledger.JournalLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT account_id, debit, credit, currency
		   FROM member_trial_balance_lines
		  WHERE company_id = $1 AND period_code = $2`, companyID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ledger.JournalLine
	for rows.Next() {
		var line ledger.JournalLine
		var debit, credit pgtype.Numeric
		var ccy string
		if err := rows.Scan(&line.AccountID, &debit, &credit, &ccy); err != nil {
			return nil, err
		}
		if debit.Valid {
			m := money.FromDecimal(numericToDecimal(debit), ccy)
			line.Debit = &m
		}
		if credit.Valid {
			m := money.FromDecimal(numericToDecimal(credit), ccy)
			line.Credit = &m
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// MemberAccountLines loads the functional-currency balances eligible for
// translation.
func (r *PostgresRepository) MemberAccountLines(ctx context.Context, companyID uuid.UUID, period string) ([]translate.AccountLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.number, a.name, a.type, a.category, b.balance, b.currency
		   FROM account_balances b
		   JOIN accounts a ON a.id = b.account_id
		  WHERE b.company_id = $1 AND b.period_code = $2
		  ORDER BY a.number`, companyID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []translate.AccountLine
	for rows.Next() {
		var line translate.AccountLine
		var balance pgtype.Numeric
		var ccy string
		if err := rows.Scan(&line.Account.ID, &line.Account.Number, &line.Account.Name,
			&line.Account.Type, &line.Account.Category, &balance, &ccy); err != nil {
			return nil, err
		}
		line.Balance = money.FromDecimal(numericToDecimal(balance), ccy)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// MemberIncome returns net income and declared dividends for the period.
// Absent rows mean zero activity.
func (r *PostgresRepository) MemberIncome(ctx context.Context, companyID uuid.UUID, period string) (money.Money, money.Money, error) {
	var netIncome, dividends pgtype.Numeric
	var ccy string
	err := r.pool.QueryRow(ctx,
		`SELECT net_income, dividends_declared, currency
		   FROM member_income_summaries
		  WHERE company_id = $1 AND period_code = $2`, companyID, period).
		Scan(&netIncome, &dividends, &ccy)
	if errors.Is(err, pgx.ErrNoRows) {
		return money.Money{}, money.Money{}, nil
	}
	if err != nil {
		return money.Money{}, money.Money{}, err
	}
	return money.FromDecimal(numericToDecimal(netIncome), ccy),
		money.FromDecimal(numericToDecimal(dividends), ccy), nil
}

// MemberRates loads the translation rate set for a member and period. An
// absent row yields empty rates; the translation engine reports the missing
// rate with its currency pair.
func (r *PostgresRepository) MemberRates(ctx context.Context, companyID uuid.UUID, period string) (translate.Rates, error) {
	var rates translate.Rates
	var closing, average pgtype.Numeric
	var dividendRate pgtype.Numeric
	var historical []byte
	var priorCTA, openingRE pgtype.Numeric
	var reportingCCY string
	err := r.pool.QueryRow(ctx,
		`SELECT closing_rate, average_rate, dividend_rate, historical_rates,
		        prior_cta, translated_opening_re, reporting_currency
		   FROM member_translation_rates
		  WHERE company_id = $1 AND period_code = $2`, companyID, period).
		Scan(&closing, &average, &dividendRate, &historical, &priorCTA, &openingRE, &reportingCCY)
	if errors.Is(err, pgx.ErrNoRows) {
		return translate.Rates{}, nil
	}
	if err != nil {
		return translate.Rates{}, err
	}

	rates.Closing = numericToDecimal(closing)
	rates.Average = numericToDecimal(average)
	if dividendRate.Valid {
		d := numericToDecimal(dividendRate)
		rates.DividendRate = &d
	}
	if len(historical) > 0 {
		raw := map[string]string{}
		if err := json.Unmarshal(historical, &raw); err != nil {
			return translate.Rates{}, fmt.Errorf("consol: historical rates for %s: %w", companyID, err)
		}
		rates.Historical = make(map[string]decimal.Decimal, len(raw))
		for number, value := range raw {
			d, err := decimal.NewFromString(value)
			if err != nil {
				return translate.Rates{}, fmt.Errorf("consol: historical rate %s=%q: %w", number, value, err)
			}
			rates.Historical[number] = d
		}
	}
	rates.PriorCTA = money.FromDecimal(numericToDecimal(priorCTA), reportingCCY)
	rates.TranslatedOpeningRE = money.FromDecimal(numericToDecimal(openingRE), reportingCCY)
	return rates, nil
}

// SubsidiaryData loads per-subsidiary NCI inputs, all amounts in the group
// reporting currency.
func (r *PostgresRepository) SubsidiaryData(ctx context.Context, groupID uuid.UUID, period string) ([]nci.SubsidiaryData, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT f.company_id, m.name, m.ownership_percent,
		        f.fair_value_at_acquisition, f.fair_value_adjustment,
		        f.net_income, f.cumulative_net_income,
		        f.dividends, f.cumulative_dividends,
		        f.oci, f.cumulative_oci, f.currency
		   FROM subsidiary_financials f
		   JOIN consolidation_members m
		     ON m.group_id = $1 AND m.company_id = f.company_id
		  WHERE f.period_code = $2
		  ORDER BY m.name`, groupID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []nci.SubsidiaryData
	for rows.Next() {
		var sub nci.SubsidiaryData
		var ownership pgtype.Numeric
		var fairValue, adjustment pgtype.Numeric
		var netIncome, cumNetIncome, dividends, cumDividends, oci, cumOCI pgtype.Numeric
		var ccy string
		if err := rows.Scan(&sub.CompanyID, &sub.CompanyName, &ownership,
			&fairValue, &adjustment,
			&netIncome, &cumNetIncome,
			&dividends, &cumDividends,
			&oci, &cumOCI, &ccy); err != nil {
			return nil, err
		}
		pct, err := money.NewPercent(numericToDecimal(ownership))
		if err != nil {
			return nil, fmt.Errorf("consol: subsidiary %s: %w", sub.CompanyID, err)
		}
		sub.Ownership = pct
		sub.FairValueAtAcquisition = money.FromDecimal(numericToDecimal(fairValue), ccy)
		if adjustment.Valid {
			m := money.FromDecimal(numericToDecimal(adjustment), ccy)
			sub.FairValueAdjustment = &m
		}
		sub.NetIncome = money.FromDecimal(numericToDecimal(netIncome), ccy)
		sub.CumulativeNetIncome = money.FromDecimal(numericToDecimal(cumNetIncome), ccy)
		sub.Dividends = money.FromDecimal(numericToDecimal(dividends), ccy)
		sub.CumulativeDividends = money.FromDecimal(numericToDecimal(cumDividends), ccy)
		sub.OCI = money.FromDecimal(numericToDecimal(oci), ccy)
		sub.CumulativeOCI = money.FromDecimal(numericToDecimal(cumOCI), ccy)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// AccountsByID resolves account metadata in bulk.
func (r *PostgresRepository) AccountsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, number, name, type, category FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[uuid.UUID]ledger.Account, len(ids))
	for rows.Next() {
		var account ledger.Account
		if err := rows.Scan(&account.ID, &account.Number, &account.Name,
			&account.Type, &account.Category); err != nil {
			return nil, err
		}
		accounts[account.ID] = account
	}
	return accounts, rows.Err()
}

// RulesByGroup loads elimination rules for the group, selectors included.
func (r *PostgresRepository) RulesByGroup(ctx context.Context, groupID uuid.UUID) ([]elim.Rule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, group_id, name, rule_type, source_selector, target_selector,
		        debit_account_id, credit_account_id, priority, is_automatic, is_active
		   FROM elimination_rules
		  WHERE group_id = $1
		  ORDER BY priority, created_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []elim.Rule
	for rows.Next() {
		var rule elim.Rule
		var source, target []byte
		if err := rows.Scan(&rule.ID, &rule.GroupID, &rule.Name, &rule.Type,
			&source, &target, &rule.DebitAccountID, &rule.CreditAccountID,
			&rule.Priority, &rule.IsAutomatic, &rule.IsActive); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(source, &rule.SourceSelector); err != nil {
			return nil, fmt.Errorf("consol: rule %s source selector: %w", rule.ID, err)
		}
		if err := json.Unmarshal(target, &rule.TargetSelector); err != nil {
			return nil, fmt.Errorf("consol: rule %s target selector: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// BalancesForRule returns the intercompany-tagged balances of the rule's
// group matching either of the rule's selectors. Selector dispatch happens
// here rather than in SQL so the three selector kinds share one query.
func (r *PostgresRepository) BalancesForRule(ctx context.Context, rule elim.Rule, period string) ([]ledger.AccountBalance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.number, a.name, a.type, a.category,
		        b.company_id, b.balance, b.currency, b.partner_company_id
		   FROM account_balances b
		   JOIN accounts a ON a.id = b.account_id
		   JOIN consolidation_members m
		     ON m.group_id = $1 AND m.company_id = b.company_id
		  WHERE b.period_code = $2 AND b.partner_company_id IS NOT NULL`,
		rule.GroupID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []ledger.AccountBalance
	for rows.Next() {
		var balance ledger.AccountBalance
		var amount pgtype.Numeric
		var ccy string
		var partner *uuid.UUID
		if err := rows.Scan(&balance.Account.ID, &balance.Account.Number,
			&balance.Account.Name, &balance.Account.Type, &balance.Account.Category,
			&balance.CompanyID, &amount, &ccy, &partner); err != nil {
			return nil, err
		}
		if !rule.SourceSelector.Matches(balance.Account) && !rule.TargetSelector.Matches(balance.Account) {
			continue
		}
		balance.Balance = money.FromDecimal(numericToDecimal(amount), ccy)
		balance.PartnerCompanyID = partner
		balances = append(balances, balance)
	}
	return balances, rows.Err()
}

// TransactionsByGroupAndPeriod loads intercompany transactions for matching.
func (r *PostgresRepository) TransactionsByGroupAndPeriod(ctx context.Context, groupID uuid.UUID, period string) ([]ic.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, from_company_id, to_company_id, txn_type, txn_date,
		        amount, currency, status
		   FROM intercompany_transactions
		  WHERE group_id = $1 AND period_code = $2
		  ORDER BY txn_date, id`, groupID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []ic.Transaction
	for rows.Next() {
		var txn ic.Transaction
		var day pgtype.Date
		var amount pgtype.Numeric
		var ccy string
		if err := rows.Scan(&txn.ID, &txn.FromCompanyID, &txn.ToCompanyID,
			&txn.Type, &day, &amount, &ccy, &txn.Status); err != nil {
			return nil, err
		}
		txn.Date = day.Time
		txn.Amount = money.FromDecimal(numericToDecimal(amount), ccy)
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// UpdateMatchingStatus stamps matching outcomes onto transactions.
func (r *PostgresRepository) UpdateMatchingStatus(ctx context.Context, ids []uuid.UUID, status ic.MatchStatus, variance *money.Money, explanation string) error {
	if len(ids) == 0 {
		return nil
	}
	var varianceAmount pgtype.Numeric
	var varianceCCY *string
	if variance != nil {
		varianceAmount = decimalToNumeric(variance.Amount())
		ccy := variance.Currency()
		varianceCCY = &ccy
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE intercompany_transactions
		    SET status = $2, variance = $3, variance_currency = $4,
		        explanation = NULLIF($5, ''), updated_at = now()
		  WHERE id = ANY($1)`,
		ids, status, varianceAmount, varianceCCY, explanation)
	return err
}

// SaveRun upserts the run record, storing steps, options, validation, and
// the final trial balance as JSONB.
func (r *PostgresRepository) SaveRun(ctx context.Context, run *Run) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return err
	}
	options, err := json.Marshal(run.Options)
	if err != nil {
		return err
	}
	var validation, trialBalance []byte
	if run.Validation != nil {
		if validation, err = json.Marshal(run.Validation); err != nil {
			return err
		}
	}
	if run.FinalTrialBalance != nil {
		if trialBalance, err = json.Marshal(run.FinalTrialBalance); err != nil {
			return err
		}
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO consolidation_runs
		        (id, group_id, period_code, as_of, status, steps, options,
		         validation, trial_balance, elimination_entry_ids, error_message,
		         created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
		        status = EXCLUDED.status,
		        steps = EXCLUDED.steps,
		        validation = EXCLUDED.validation,
		        trial_balance = EXCLUDED.trial_balance,
		        elimination_entry_ids = EXCLUDED.elimination_entry_ids,
		        error_message = EXCLUDED.error_message,
		        started_at = EXCLUDED.started_at,
		        completed_at = EXCLUDED.completed_at`,
		run.ID, run.GroupID, run.Period, run.AsOf, run.Status, steps, options,
		validation, trialBalance, run.EliminationEntryIDs, run.ErrorMessage,
		run.CreatedAt, run.StartedAt, run.CompletedAt)
	return err
}

// LoadRun fetches a run by id.
func (r *PostgresRepository) LoadRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return r.scanRun(r.pool.QueryRow(ctx, runSelect+` WHERE id = $1`, id))
}

// FindRunByGroupAndPeriod fetches the most recent run for the scope.
func (r *PostgresRepository) FindRunByGroupAndPeriod(ctx context.Context, groupID uuid.UUID, period string) (*Run, error) {
	return r.scanRun(r.pool.QueryRow(ctx,
		runSelect+` WHERE group_id = $1 AND period_code = $2
		 ORDER BY created_at DESC LIMIT 1`, groupID, period))
}

const runSelect = `SELECT id, group_id, period_code, as_of, status, steps, options,
       validation, trial_balance, elimination_entry_ids,
       COALESCE(error_message, ''), created_at, started_at, completed_at
  FROM consolidation_runs`

func (r *PostgresRepository) scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var steps, options, validation, trialBalance []byte
	err := row.Scan(&run.ID, &run.GroupID, &run.Period, &run.AsOf, &run.Status,
		&steps, &options, &validation, &trialBalance, &run.EliminationEntryIDs,
		&run.ErrorMessage, &run.CreatedAt, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &run.Steps); err != nil {
		return nil, fmt.Errorf("consol: run %s steps: %w", run.ID, err)
	}
	if err := json.Unmarshal(options, &run.Options); err != nil {
		return nil, fmt.Errorf("consol: run %s options: %w", run.ID, err)
	}
	if len(validation) > 0 {
		run.Validation = &ValidationResult{}
		if err := json.Unmarshal(validation, run.Validation); err != nil {
			return nil, fmt.Errorf("consol: run %s validation: %w", run.ID, err)
		}
	}
	if len(trialBalance) > 0 {
		run.FinalTrialBalance = &TrialBalance{}
		if err := json.Unmarshal(trialBalance, run.FinalTrialBalance); err != nil {
			return nil, fmt.Errorf("consol: run %s trial balance: %w", run.ID, err)
		}
	}
	return &run, nil
}

// SaveEliminationEntries persists generated entries atomically.
func (r *PostgresRepository) SaveEliminationEntries(ctx context.Context, entries []elim.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, entry := range entries {
		lines, err := json.Marshal(entry.Lines)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO elimination_entries
			        (id, rule_id, group_id, period_code, description, lines,
			         total_debits, total_credits, currency, is_posted,
			         journal_entry_id, generated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			entry.ID, entry.RuleID, entry.GroupID, entry.Period, entry.Description,
			lines, decimalToNumeric(entry.TotalDebits.Amount()),
			decimalToNumeric(entry.TotalCredits.Amount()),
			entry.TotalDebits.Currency(), entry.IsPosted,
			entry.JournalEntryID, entry.GeneratedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}
