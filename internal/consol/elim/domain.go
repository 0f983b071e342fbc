// Package elim generates elimination entries from priority-ordered rules
// applied to intercompany and unrealized-profit balances. Every generated
// entry carries exactly one debit and one credit of equal magnitude, so it is
// self-balanced by construction.
package elim

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

// RuleType enumerates the supported elimination flavours.
type RuleType string

const (
	RuleICReceivablePayable         RuleType = "IC_RECEIVABLE_PAYABLE"
	RuleICRevenueExpense            RuleType = "IC_REVENUE_EXPENSE"
	RuleICDividend                  RuleType = "IC_DIVIDEND"
	RuleICInvestment                RuleType = "IC_INVESTMENT"
	RuleUnrealizedProfitInventory   RuleType = "UNREALIZED_PROFIT_INVENTORY"
	RuleUnrealizedProfitFixedAssets RuleType = "UNREALIZED_PROFIT_FIXED_ASSETS"
)

// SelectorKind discriminates the account selector variants.
type SelectorKind string

const (
	SelectByID       SelectorKind = "BY_ID"
	SelectByRange    SelectorKind = "BY_NUMBER_RANGE"
	SelectByCategory SelectorKind = "BY_CATEGORY"
)

// AccountSelector is a closed tagged union picking accounts by id, by number
// range, or by chart category.
type AccountSelector struct {
	Kind       SelectorKind
	AccountIDs []uuid.UUID
	RangeStart string
	RangeEnd   string
	Category   string
}

// Matches resolves the selector against one account.
func (s AccountSelector) Matches(account ledger.Account) bool {
	switch s.Kind {
	case SelectByID:
		for _, id := range s.AccountIDs {
			if id == account.ID {
				return true
			}
		}
		return false
	case SelectByRange:
		return account.Number >= s.RangeStart && account.Number <= s.RangeEnd
	case SelectByCategory:
		return account.Category == s.Category
	default:
		return false
	}
}

// Rule is an immutable elimination configuration. Lower priority runs first.
type Rule struct {
	ID              uuid.UUID
	GroupID         uuid.UUID
	Name            string
	Type            RuleType
	SourceSelector  AccountSelector
	TargetSelector  AccountSelector
	DebitAccountID  uuid.UUID
	CreditAccountID uuid.UUID
	Priority        int
	IsAutomatic     bool
	IsActive        bool
}

// EntryLine is one side of a generated elimination entry.
type EntryLine struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Debit     money.Money
	Credit    money.Money
	Memo      string
}

// Entry is a generated, not yet posted, elimination journal. JournalEntryID
// stays nil until an external ledger-posting step attaches it.
type Entry struct {
	ID             uuid.UUID
	RuleID         uuid.UUID
	GroupID        uuid.UUID
	Period         string
	Description    string
	Lines          []EntryLine
	TotalDebits    money.Money
	TotalCredits   money.Money
	IsPosted       bool
	JournalEntryID *uuid.UUID
	GeneratedAt    time.Time
}

// GenerationResult accumulates the outcome of one generator pass.
type GenerationResult struct {
	GroupID          uuid.UUID
	Period           string
	Entries          []Entry
	ProcessedRuleIDs []uuid.UUID
	SkippedRuleIDs   []uuid.UUID
	TotalAmount      money.Money
}

var (
	// ErrGroupNotFound indicates the consolidation group is missing.
	ErrGroupNotFound = errors.New("elim: consolidation group not found")
	// ErrPeriodNotFound indicates the fiscal period is missing.
	ErrPeriodNotFound = errors.New("elim: fiscal period not found")
)
