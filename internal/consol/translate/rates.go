// Package translate converts a member's functional-currency trial balance
// into the group reporting currency. Rate selection follows ASC 830: closing
// rate for monetary positions, average rate for income statement activity,
// historical rates for contributed capital, and calculated values for
// retained earnings and the cumulative translation adjustment.
package translate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// RateType identifies which translation rate was applied to a line.
type RateType string

const (
	RateClosing    RateType = "CLOSING"
	RateAverage    RateType = "AVERAGE"
	RateHistorical RateType = "HISTORICAL"
	// RateCalculated marks lines whose reporting value is computed rather
	// than rate-translated (retained earnings, OCI).
	RateCalculated RateType = "CALCULATED"
)

// Rates carries every rate a member needs for one period. Supplied per member
// per period and never mutated by the engine.
type Rates struct {
	Closing    decimal.Decimal
	Average    decimal.Decimal
	Historical map[string]decimal.Decimal // account number -> rate at acquisition
	// DividendRate overrides the average rate for dividend remeasurement
	// when the declaration-date rate is known.
	DividendRate *decimal.Decimal
	// PriorCTA is the cumulative translation adjustment carried in from the
	// prior period, already in the reporting currency.
	PriorCTA money.Money
	// TranslatedOpeningRE is the opening retained earnings balance in the
	// reporting currency.
	TranslatedOpeningRE money.Money
}

// RateNotFoundError reports a required translation rate that was not supplied.
type RateNotFoundError struct {
	FromCurrency string
	ToCurrency   string
	RateType     RateType
	AsOf         time.Time
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("translate: no %s rate from %s to %s as of %s",
		e.RateType, e.FromCurrency, e.ToCurrency, e.AsOf.Format("2006-01-02"))
}

// HistoricalRateRequiredError reports an equity account that must be carried
// at a historical rate when neither a historical nor a closing rate exists.
type HistoricalRateRequiredError struct {
	AccountNumber string
	FromCurrency  string
	ToCurrency    string
}

func (e *HistoricalRateRequiredError) Error() string {
	return fmt.Sprintf("translate: historical rate required for account %s (%s to %s)",
		e.AccountNumber, e.FromCurrency, e.ToCurrency)
}
