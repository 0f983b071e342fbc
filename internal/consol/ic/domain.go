// Package ic matches intercompany transactions between group members and
// reports discrepancies. Matching is greedy first-fit within configurable
// date and amount tolerance windows.
package ic

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// MatchStatus tracks the lifecycle of an intercompany transaction. Only the
// matcher mutates it.
type MatchStatus string

const (
	StatusUnmatched        MatchStatus = "UNMATCHED"
	StatusMatched          MatchStatus = "MATCHED"
	StatusPartiallyMatched MatchStatus = "PARTIALLY_MATCHED"
	StatusVarianceApproved MatchStatus = "VARIANCE_APPROVED"
)

// TransactionType classifies intercompany activity.
type TransactionType string

const (
	TypeLoan          TransactionType = "LOAN"
	TypeSale          TransactionType = "SALE"
	TypeService       TransactionType = "SERVICE"
	TypeDividend      TransactionType = "DIVIDEND"
	TypeInterest      TransactionType = "INTEREST"
	TypeManagementFee TransactionType = "MANAGEMENT_FEE"
)

// Transaction is one side of an intercompany exchange.
type Transaction struct {
	ID            uuid.UUID
	FromCompanyID uuid.UUID
	ToCompanyID   uuid.UUID
	Type          TransactionType
	Date          time.Time
	Amount        money.Money
	Status        MatchStatus
}

// MatchingConfig controls the matching tolerance windows. A zero amount
// tolerance demands exact amounts.
type MatchingConfig struct {
	DateToleranceDays      int             `validate:"gte=0"`
	AmountTolerancePercent decimal.Decimal `validate:"-"`
}

// DefaultMatchingConfig mirrors the standard close configuration: three days
// of date slack, exact amounts.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{DateToleranceDays: 3}
}

// MatchedPair joins a transaction with its counterpart from the reverse
// company pair.
type MatchedPair struct {
	From         Transaction
	To           Transaction
	Variance     money.Money
	IsExactMatch bool
}

// UnmatchedTransaction is a transaction with no qualifying counterpart.
// MissingCompanyID names the member whose books lack the mirror record; that
// is always the transaction's receiving company.
type UnmatchedTransaction struct {
	Transaction      Transaction
	MissingCompanyID uuid.UUID
}

// DiscrepancyDetail is one row in the discrepancy report: either a matched
// pair with nonzero variance or an unmatched transaction.
type DiscrepancyDetail struct {
	Description   string
	TransactionID uuid.UUID
	CounterpartID *uuid.UUID
	Amount        money.Money
}

// Report aggregates the outcome of one matching run.
type Report struct {
	GroupID           uuid.UUID
	Period            string
	Pairs             []MatchedPair
	Unmatched         []UnmatchedTransaction
	Discrepancies     []DiscrepancyDetail
	TotalTransactions int
	MatchedPairs      int
	PartialPairs      int
	// MatchRate is matched transactions over total, as a percentage.
	// An empty population matches trivially at 100.
	MatchRate decimal.Decimal
	// TotalVariance sums pair variances per currency so mixed-currency
	// groups never silently drop amounts from the total.
	TotalVariance map[string]money.Money
}

var (
	// ErrGroupNotFound indicates the consolidation group is missing.
	ErrGroupNotFound = errors.New("ic: consolidation group not found")
	// ErrPeriodNotFound indicates the fiscal period is missing.
	ErrPeriodNotFound = errors.New("ic: fiscal period not found")
)
