// Package ledger holds chart-of-accounts primitives shared by the
// consolidation engine: accounts, balances, journal lines, and double-entry
// validation.
package ledger

import (
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// AccountType enumerates the five fundamental account types.
type AccountType string

const (
	TypeAsset     AccountType = "ASSET"
	TypeLiability AccountType = "LIABILITY"
	TypeEquity    AccountType = "EQUITY"
	TypeRevenue   AccountType = "REVENUE"
	TypeExpense   AccountType = "EXPENSE"
)

// Equity sub-categories recognised by the translation engine.
const (
	CategoryContributedCapital       = "ContributedCapital"
	CategoryRetainedEarnings         = "RetainedEarnings"
	CategoryOtherComprehensiveIncome = "OtherComprehensiveIncome"
	CategoryTreasuryStock            = "TreasuryStock"
)

// Account identifies a ledger account within a company's chart.
type Account struct {
	ID       uuid.UUID
	Number   string
	Name     string
	Type     AccountType
	Category string
}

// AccountBalance is a read-only period snapshot of an account's balance,
// optionally tagged with the intercompany partner that drove the activity.
type AccountBalance struct {
	Account          Account
	CompanyID        uuid.UUID
	Balance          money.Money
	PartnerCompanyID *uuid.UUID
}

// JournalLine is a single debit or credit in a trial balance or entry. An
// absent side is treated as zero during summation.
type JournalLine struct {
	AccountID uuid.UUID
	Debit     *money.Money
	Credit    *money.Money
}
