// Package consol orchestrates multi-entity consolidation: member trial
// balances are validated, translated into the reporting currency, aggregated,
// cleared of intercompany activity, attributed to minority owners, and rolled
// into a balanced consolidated trial balance.
package consol

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// Method enumerates how a member is brought into the group accounts.
type Method string

const (
	MethodFullConsolidation Method = "FULL_CONSOLIDATION"
	MethodEquity            Method = "EQUITY_METHOD"
	MethodCost              Method = "COST_METHOD"
	MethodVIE               Method = "VARIABLE_INTEREST_ENTITY"
)

// Group is a set of companies under common control consolidating into one
// reporting currency.
type Group struct {
	ID                uuid.UUID
	Name              string
	ParentCompanyID   uuid.UUID
	ReportingCurrency string
	Members           []Member
}

// Member is one company inside a consolidation group.
type Member struct {
	CompanyID          uuid.UUID
	Name               string
	FunctionalCurrency string
	Ownership          money.Percent
	// IsVIEPrimaryBeneficiary marks a variable interest entity whose primary
	// beneficiary is the parent. Such members consolidate fully regardless
	// of ownership.
	IsVIEPrimaryBeneficiary bool
	Enabled                 bool
}

var (
	equityLowerBound = decimal.NewFromInt(20)
	controlThreshold = decimal.NewFromInt(50)
)

// ConsolidationMethod derives the method from ownership thresholds. VIE
// primary-beneficiary status overrides to full consolidation.
func (m Member) ConsolidationMethod() Method {
	if m.IsVIEPrimaryBeneficiary {
		return MethodFullConsolidation
	}
	value := m.Ownership.Value()
	switch {
	case value.GreaterThan(controlThreshold):
		return MethodFullConsolidation
	case value.GreaterThanOrEqual(equityLowerBound):
		return MethodEquity
	default:
		return MethodCost
	}
}

// TrialBalanceLine is one consolidated account line. NCIAmount stays nil for
// accounts with no minority attribution.
type TrialBalanceLine struct {
	AccountID           uuid.UUID
	AccountNumber       string
	AccountName         string
	AggregatedBalance   money.Money
	EliminationAmount   money.Money
	NCIAmount           *money.Money
	ConsolidatedBalance money.Money
}

// TrialBalanceTotals summarises the consolidated result.
type TrialBalanceTotals struct {
	TotalDebits       money.Money
	TotalCredits      money.Money
	TotalEliminations money.Money
	TotalNCI          money.Money
	Balanced          bool
	Refreshed         time.Time
}

// TrialBalance is the terminal artifact of a consolidation run.
type TrialBalance struct {
	GroupID           uuid.UUID
	GroupName         string
	Period            string
	ReportingCurrency string
	Lines             []TrialBalanceLine
	Totals            TrialBalanceTotals
}

// MemberValidation is the balance check outcome for one member's opening
// trial balance.
type MemberValidation struct {
	CompanyID  uuid.UUID
	Currency   string
	Balanced   bool
	Difference money.Money
	Message    string
}

// ValidationResult collects per-member balance checks for the Validate step.
type ValidationResult struct {
	Members []MemberValidation
	AllOK   bool
}

var (
	// ErrGroupNotFound indicates the consolidation group is missing.
	ErrGroupNotFound = errors.New("consol: group not found")
	// ErrPeriodNotFound indicates the fiscal period is missing.
	ErrPeriodNotFound = errors.New("consol: period not found")
	// ErrRunNotFound indicates a consolidation run could not be loaded.
	ErrRunNotFound = errors.New("consol: run not found")
	// ErrRunActive indicates a non-terminal run already exists for the
	// group and period.
	ErrRunActive = errors.New("consol: run already active for this period")
)
