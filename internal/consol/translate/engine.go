package translate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

// balanceTolerance is the rounding slack allowed by the post-translation
// Assets = Liabilities + Equity self-check.
var balanceTolerance = decimal.NewFromFloat(0.01)

var one = decimal.NewFromInt(1)

// AccountLine is a single functional-currency balance eligible for
// translation.
type AccountLine struct {
	Account ledger.Account
	Balance money.Money
}

// Input bundles everything the engine needs to translate one member.
type Input struct {
	CompanyID          uuid.UUID
	CompanyName        string
	FunctionalCurrency string
	ReportingCurrency  string
	AsOf               time.Time
	Lines              []AccountLine
	NetIncome          money.Money
	DividendsDeclared  money.Money
	Rates              Rates
}

// TranslatedLine records a line together with the rate actually applied.
type TranslatedLine struct {
	Account    ledger.Account
	Category   Category
	Functional money.Money
	Rate       decimal.Decimal
	RateType   RateType
	Translated money.Money
}

// Result is the translated trial balance for one member.
type Result struct {
	CompanyID          uuid.UUID
	CompanyName        string
	FunctionalCurrency string
	ReportingCurrency  string
	AsOf               time.Time

	Lines []TranslatedLine

	TotalAssets      money.Money
	TotalLiabilities money.Money
	TotalRevenue     money.Money
	TotalExpenses    money.Money

	// ClosingRetainedEarnings is computed, not rate-translated:
	// opening RE + net income at average rate − dividends at the
	// declaration rate (average when none supplied).
	ClosingRetainedEarnings money.Money
	// ClosingCTA is the plug that forces the translated balance sheet to
	// balance; it is carried in OCI.
	ClosingCTA       money.Money
	CurrentPeriodCTA money.Money
	TotalEquity      money.Money

	IsBalanced bool
	Warnings   []string
}

// Engine translates member trial balances.
type Engine struct {
	logger *slog.Logger
}

// NewEngine constructs a translation engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Translate converts a member's functional-currency trial balance into the
// reporting currency. The computation is pure: inputs are never mutated.
func (e *Engine) Translate(in Input) (Result, error) {
	if _, err := money.New(decimal.Zero, in.ReportingCurrency); err != nil {
		return Result{}, err
	}
	if _, err := money.New(decimal.Zero, in.FunctionalCurrency); err != nil {
		return Result{}, err
	}

	sameCurrency := in.FunctionalCurrency == in.ReportingCurrency
	rates := in.Rates
	if sameCurrency {
		rates.Closing = one
		rates.Average = one
		rates.DividendRate = nil
		rates.Historical = nil
	} else {
		if rates.Closing.IsZero() {
			return Result{}, &RateNotFoundError{
				FromCurrency: in.FunctionalCurrency,
				ToCurrency:   in.ReportingCurrency,
				RateType:     RateClosing,
				AsOf:         in.AsOf,
			}
		}
		if rates.Average.IsZero() {
			return Result{}, &RateNotFoundError{
				FromCurrency: in.FunctionalCurrency,
				ToCurrency:   in.ReportingCurrency,
				RateType:     RateAverage,
				AsOf:         in.AsOf,
			}
		}
	}

	result := Result{
		CompanyID:          in.CompanyID,
		CompanyName:        in.CompanyName,
		FunctionalCurrency: in.FunctionalCurrency,
		ReportingCurrency:  in.ReportingCurrency,
		AsOf:               in.AsOf,
		Lines:              make([]TranslatedLine, 0, len(in.Lines)),
	}

	rc := in.ReportingCurrency
	assets := money.Zero(rc)
	liabilities := money.Zero(rc)
	equityExCalculated := money.Zero(rc)
	revenue := money.Zero(rc)
	expenses := money.Zero(rc)

	for _, line := range in.Lines {
		if line.Balance.Currency() != in.FunctionalCurrency {
			return Result{}, &money.CurrencyMismatchError{
				Expected: in.FunctionalCurrency,
				Actual:   line.Balance.Currency(),
			}
		}
		category := Categorize(line.Account)

		if category.IsCalculated() {
			// Retained earnings and OCI are derived below; their
			// functional balances do not translate line by line.
			result.Lines = append(result.Lines, TranslatedLine{
				Account:    line.Account,
				Category:   category,
				Functional: line.Balance,
				RateType:   RateCalculated,
				Translated: money.Zero(rc),
			})
			continue
		}

		rate, rateType, err := e.rateFor(category, line.Account.Number, rates, in, sameCurrency, &result.Warnings)
		if err != nil {
			return Result{}, err
		}

		translated := money.FromDecimal(line.Balance.Amount().Mul(rate), rc)
		result.Lines = append(result.Lines, TranslatedLine{
			Account:    line.Account,
			Category:   category,
			Functional: line.Balance,
			Rate:       rate,
			RateType:   rateType,
			Translated: translated,
		})

		var sumErr error
		switch line.Account.Type {
		case ledger.TypeAsset:
			assets, sumErr = assets.Add(translated)
		case ledger.TypeLiability:
			liabilities, sumErr = liabilities.Add(translated)
		case ledger.TypeEquity:
			equityExCalculated, sumErr = equityExCalculated.Add(translated)
		case ledger.TypeRevenue:
			revenue, sumErr = revenue.Add(translated)
		case ledger.TypeExpense:
			expenses, sumErr = expenses.Add(translated)
		}
		if sumErr != nil {
			return Result{}, sumErr
		}
	}

	closingRE, err := e.closingRetainedEarnings(in, rates, rc)
	if err != nil {
		return Result{}, err
	}

	equityExCTA, err := equityExCalculated.Add(closingRE)
	if err != nil {
		return Result{}, err
	}

	var closingCTA, currentCTA money.Money
	if sameCurrency {
		// A same-currency member never produces CTA; the prior balance
		// passes through unchanged.
		closingCTA = rates.PriorCTA
		if closingCTA.Currency() == "" {
			closingCTA = money.Zero(rc)
		}
		currentCTA = money.Zero(rc)
	} else {
		afterLiabilities, err := assets.Subtract(liabilities)
		if err != nil {
			return Result{}, err
		}
		closingCTA, err = afterLiabilities.Subtract(equityExCTA)
		if err != nil {
			return Result{}, err
		}
		priorCTA := rates.PriorCTA
		if priorCTA.Currency() == "" {
			priorCTA = money.Zero(rc)
		}
		currentCTA, err = closingCTA.Subtract(priorCTA)
		if err != nil {
			return Result{}, err
		}
	}

	totalEquity, err := equityExCTA.Add(closingCTA)
	if err != nil {
		return Result{}, err
	}

	result.TotalAssets = assets
	result.TotalLiabilities = liabilities
	result.TotalRevenue = revenue
	result.TotalExpenses = expenses
	result.ClosingRetainedEarnings = closingRE
	result.ClosingCTA = closingCTA
	result.CurrentPeriodCTA = currentCTA
	result.TotalEquity = totalEquity

	rhs, err := liabilities.Add(totalEquity)
	if err != nil {
		return Result{}, err
	}
	gap, err := assets.Subtract(rhs)
	if err != nil {
		return Result{}, err
	}
	result.IsBalanced = gap.Abs().Amount().LessThanOrEqual(balanceTolerance)

	if len(result.Warnings) > 0 {
		e.log().Warn("translation completed with warnings",
			slog.String("company", in.CompanyName),
			slog.Int("warnings", len(result.Warnings)))
	}
	return result, nil
}

// rateFor selects the rate for a non-calculated category. A missing
// historical rate degrades to the closing rate and records both the applied
// rate type on the line and a warning on the result.
func (e *Engine) rateFor(
	category Category,
	accountNumber string,
	rates Rates,
	in Input,
	sameCurrency bool,
	warnings *[]string,
) (decimal.Decimal, RateType, error) {
	switch {
	case category == CategoryRevenue || category == CategoryExpense:
		return rates.Average, RateAverage, nil
	case category.RequiresHistorical():
		if rate, ok := rates.Historical[accountNumber]; ok {
			if rate.IsZero() {
				return decimal.Decimal{}, "", &HistoricalRateRequiredError{
					AccountNumber: accountNumber,
					FromCurrency:  in.FunctionalCurrency,
					ToCurrency:    in.ReportingCurrency,
				}
			}
			return rate, RateHistorical, nil
		}
		if rates.Closing.IsZero() {
			return decimal.Decimal{}, "", &HistoricalRateRequiredError{
				AccountNumber: accountNumber,
				FromCurrency:  in.FunctionalCurrency,
				ToCurrency:    in.ReportingCurrency,
			}
		}
		if !sameCurrency {
			*warnings = append(*warnings, fmt.Sprintf(
				"no historical rate for account %s, applied closing rate", accountNumber))
		}
		return rates.Closing, RateClosing, nil
	default:
		return rates.Closing, RateClosing, nil
	}
}

func (e *Engine) closingRetainedEarnings(in Input, rates Rates, rc string) (money.Money, error) {
	opening := rates.TranslatedOpeningRE
	if opening.Currency() == "" {
		opening = money.Zero(rc)
	}
	if opening.Currency() != rc {
		return money.Money{}, &money.CurrencyMismatchError{Expected: rc, Actual: opening.Currency()}
	}

	netIncome := in.NetIncome
	if netIncome.Currency() == "" {
		netIncome = money.Zero(in.FunctionalCurrency)
	}
	if netIncome.Currency() != in.FunctionalCurrency {
		return money.Money{}, &money.CurrencyMismatchError{Expected: in.FunctionalCurrency, Actual: netIncome.Currency()}
	}
	translatedNI := money.FromDecimal(netIncome.Amount().Mul(rates.Average), rc)

	dividends := in.DividendsDeclared
	if dividends.Currency() == "" {
		dividends = money.Zero(in.FunctionalCurrency)
	}
	if dividends.Currency() != in.FunctionalCurrency {
		return money.Money{}, &money.CurrencyMismatchError{Expected: in.FunctionalCurrency, Actual: dividends.Currency()}
	}
	dividendRate := rates.Average
	if rates.DividendRate != nil {
		dividendRate = *rates.DividendRate
	}
	translatedDiv := money.FromDecimal(dividends.Amount().Mul(dividendRate), rc)

	afterIncome, err := opening.Add(translatedNI)
	if err != nil {
		return money.Money{}, err
	}
	return afterIncome.Subtract(translatedDiv)
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", "translate_engine"))
	}
	return slog.Default().With(slog.String("component", "translate_engine"))
}
