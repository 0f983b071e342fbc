// Package nci computes non-controlling interest: the minority share of a
// subsidiary's equity and income that does not belong to the parent.
package nci

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// SubsidiaryData is the per-subsidiary input, all amounts in the group
// reporting currency.
type SubsidiaryData struct {
	CompanyID   uuid.UUID
	CompanyName string
	// Ownership is the parent's stake.
	Ownership money.Percent
	// FairValueAtAcquisition is the fair value of net assets when control
	// was obtained.
	FairValueAtAcquisition money.Money
	// FairValueAdjustment is an optional premium or discount applied to
	// the acquisition-date NCI measurement.
	FairValueAdjustment *money.Money

	NetIncome           money.Money
	CumulativeNetIncome money.Money
	Dividends           money.Money
	CumulativeDividends money.Money
	OCI                 money.Money
	CumulativeOCI       money.Money
}

// LineItemType tags where a presentation line lands in the statements.
type LineItemType string

const (
	// LineEquity is the balance sheet NCI equity line.
	LineEquity LineItemType = "NCI_EQUITY"
	// LineNetIncome is the income statement attribution line.
	LineNetIncome LineItemType = "NCI_NET_INCOME"
	LineOCI       LineItemType = "NCI_OCI"
	// Equity statement movements.
	LineDividends   LineItemType = "NCI_DIVIDENDS"
	LineAcquisition LineItemType = "NCI_ACQUISITION"
	LineOther       LineItemType = "NCI_OTHER"
)

// LineItem is a presentation-tagged amount. Dividend items are stored
// negated: they reduce NCI equity.
type LineItem struct {
	Type        LineItemType
	Description string
	Amount      money.Money
}

// ChangeType itemizes post-acquisition equity movement.
type ChangeType string

const (
	ChangeNetIncome ChangeType = "NET_INCOME"
	ChangeDividends ChangeType = "DIVIDENDS"
	ChangeOCI       ChangeType = "OCI"
)

// Change is one itemized post-acquisition movement in the NCI share.
type Change struct {
	Type   ChangeType
	Amount money.Money
}

// Result carries the full NCI computation for one subsidiary.
type Result struct {
	CompanyID     uuid.UUID
	CompanyName   string
	NCIPercentage money.Percent
	// HasNCI is false for wholly-owned subsidiaries; every amount is then
	// exactly zero by short-circuit, not approximation.
	HasNCI bool

	EquityAtAcquisition    money.Money
	CurrentPeriodNetIncome money.Money
	Changes                []Change
	NetChange              money.Money
	TotalNCIEquity         money.Money
	LineItems              []LineItem
}

// ConsolidatedSummary aggregates NCI across partially owned subsidiaries.
// Wholly-owned subsidiaries are dropped from SubsidiaryResults entirely.
type ConsolidatedSummary struct {
	Currency          string
	SubsidiaryResults []Result
	TotalNCIEquity    money.Money
	TotalNCINetIncome money.Money
	TotalNCIOCI       money.Money
	LineItems         []LineItem
}

// ErrSubsidiaryNotFound indicates the subsidiary is not a group member.
var ErrSubsidiaryNotFound = errors.New("nci: subsidiary not found")

// ErrInvalidOwnership indicates an ownership percentage outside [0, 100].
var ErrInvalidOwnership = errors.New("nci: invalid ownership percentage")

// CalculationError wraps a failure inside the NCI computation with the
// subsidiary it belongs to.
type CalculationError struct {
	CompanyID uuid.UUID
	Err       error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("nci: calculation for subsidiary %s: %v", e.CompanyID, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }
