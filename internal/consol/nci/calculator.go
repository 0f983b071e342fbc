package nci

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// Calculator computes minority interest per subsidiary and across a group.
type Calculator struct {
	logger *slog.Logger
}

// NewCalculator constructs a Calculator instance.
func NewCalculator(logger *slog.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// NCIPercentage derives the minority stake as 100 − parent ownership,
// validating the input into [0, 100].
func (c *Calculator) NCIPercentage(parentOwnership decimal.Decimal) (money.Percent, error) {
	ownership, err := money.NewPercent(parentOwnership)
	if err != nil {
		return money.Percent{}, fmt.Errorf("%w: %s", ErrInvalidOwnership, parentOwnership)
	}
	return ownership.Complement(), nil
}

// Calculate computes the NCI position for one subsidiary. A wholly-owned
// subsidiary short-circuits to exact zeros.
func (c *Calculator) Calculate(sub SubsidiaryData) (Result, error) {
	currency := sub.FairValueAtAcquisition.Currency()
	if currency == "" {
		return Result{}, &CalculationError{CompanyID: sub.CompanyID,
			Err: fmt.Errorf("fair value at acquisition is required")}
	}
	nciPct := sub.Ownership.Complement()

	result := Result{
		CompanyID:     sub.CompanyID,
		CompanyName:   sub.CompanyName,
		NCIPercentage: nciPct,
	}

	if sub.Ownership.IsFull() {
		zero := money.Zero(currency)
		result.EquityAtAcquisition = zero
		result.CurrentPeriodNetIncome = zero
		result.NetChange = zero
		result.TotalNCIEquity = zero
		return result, nil
	}
	result.HasNCI = true

	equityAtAcquisition := nciPct.ApplyTo(sub.FairValueAtAcquisition)
	if sub.FairValueAdjustment != nil {
		var err error
		equityAtAcquisition, err = equityAtAcquisition.Add(*sub.FairValueAdjustment)
		if err != nil {
			return Result{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
		}
	}
	result.EquityAtAcquisition = equityAtAcquisition

	// Sign-preserving: a subsidiary loss yields a negative NCI share.
	currentNetIncome := nciPct.ApplyTo(orZero(sub.NetIncome, currency))
	result.CurrentPeriodNetIncome = currentNetIncome

	incomeShare, err := nciPct.ApplyTo(orZero(sub.CumulativeNetIncome, currency)).Add(currentNetIncome)
	if err != nil {
		return Result{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
	}
	ociShare, err := nciPct.ApplyTo(orZero(sub.CumulativeOCI, currency)).Add(nciPct.ApplyTo(orZero(sub.OCI, currency)))
	if err != nil {
		return Result{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
	}
	dividendShare, err := nciPct.ApplyTo(orZero(sub.CumulativeDividends, currency)).Add(nciPct.ApplyTo(orZero(sub.Dividends, currency)))
	if err != nil {
		return Result{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
	}

	if !incomeShare.IsZero() {
		result.Changes = append(result.Changes, Change{Type: ChangeNetIncome, Amount: incomeShare})
	}
	if !dividendShare.IsZero() {
		result.Changes = append(result.Changes, Change{Type: ChangeDividends, Amount: dividendShare})
	}
	if !ociShare.IsZero() {
		result.Changes = append(result.Changes, Change{Type: ChangeOCI, Amount: ociShare})
	}

	netChange, err := incomeShare.Add(ociShare)
	if err != nil {
		return Result{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
	}
	netChange, err = netChange.Subtract(dividendShare)
	if err != nil {
		return Result{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
	}
	result.NetChange = netChange

	total, err := equityAtAcquisition.Add(netChange)
	if err != nil {
		return Result{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
	}
	result.TotalNCIEquity = total

	result.LineItems = buildLineItems(sub.CompanyName, result, currentNetIncome, ociShare, dividendShare, equityAtAcquisition)
	return result, nil
}

func buildLineItems(name string, result Result, netIncome, oci, dividends, acquisition money.Money) []LineItem {
	var items []LineItem
	if !result.TotalNCIEquity.IsZero() {
		items = append(items, LineItem{
			Type:        LineEquity,
			Description: fmt.Sprintf("Non-controlling interest in %s", name),
			Amount:      result.TotalNCIEquity,
		})
	}
	if !netIncome.IsZero() {
		items = append(items, LineItem{
			Type:        LineNetIncome,
			Description: fmt.Sprintf("Net income attributable to NCI of %s", name),
			Amount:      netIncome,
		})
	}
	if !oci.IsZero() {
		items = append(items, LineItem{
			Type:        LineOCI,
			Description: fmt.Sprintf("OCI attributable to NCI of %s", name),
			Amount:      oci,
		})
	}
	if !dividends.IsZero() {
		// Stored negated: dividends reduce NCI equity.
		items = append(items, LineItem{
			Type:        LineDividends,
			Description: fmt.Sprintf("Dividends paid to NCI of %s", name),
			Amount:      dividends.Negate(),
		})
	}
	if !acquisition.IsZero() {
		items = append(items, LineItem{
			Type:        LineAcquisition,
			Description: fmt.Sprintf("NCI recognised at acquisition of %s", name),
			Amount:      acquisition,
		})
	}
	return items
}

// CalculateConsolidated computes NCI per subsidiary, drops wholly-owned ones
// from the result set, and sums the remainder.
func (c *Calculator) CalculateConsolidated(subsidiaries []SubsidiaryData, currency string) (ConsolidatedSummary, error) {
	summary := ConsolidatedSummary{
		Currency:          currency,
		TotalNCIEquity:    money.Zero(currency),
		TotalNCINetIncome: money.Zero(currency),
		TotalNCIOCI:       money.Zero(currency),
	}

	for _, sub := range subsidiaries {
		result, err := c.Calculate(sub)
		if err != nil {
			return ConsolidatedSummary{}, err
		}
		if !result.HasNCI {
			continue
		}
		summary.SubsidiaryResults = append(summary.SubsidiaryResults, result)

		summary.TotalNCIEquity, err = summary.TotalNCIEquity.Add(result.TotalNCIEquity)
		if err != nil {
			return ConsolidatedSummary{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
		}
		summary.TotalNCINetIncome, err = summary.TotalNCINetIncome.Add(result.CurrentPeriodNetIncome)
		if err != nil {
			return ConsolidatedSummary{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
		}
		for _, change := range result.Changes {
			if change.Type != ChangeOCI {
				continue
			}
			summary.TotalNCIOCI, err = summary.TotalNCIOCI.Add(change.Amount)
			if err != nil {
				return ConsolidatedSummary{}, &CalculationError{CompanyID: sub.CompanyID, Err: err}
			}
		}
	}

	if !summary.TotalNCIEquity.IsZero() {
		summary.LineItems = append(summary.LineItems, LineItem{
			Type:        LineEquity,
			Description: "Total non-controlling interests",
			Amount:      summary.TotalNCIEquity,
		})
	}
	if !summary.TotalNCINetIncome.IsZero() {
		summary.LineItems = append(summary.LineItems, LineItem{
			Type:        LineNetIncome,
			Description: "Net income attributable to non-controlling interests",
			Amount:      summary.TotalNCINetIncome,
		})
	}
	if !summary.TotalNCIOCI.IsZero() {
		summary.LineItems = append(summary.LineItems, LineItem{
			Type:        LineOCI,
			Description: "OCI attributable to non-controlling interests",
			Amount:      summary.TotalNCIOCI,
		})
	}

	c.log().Info("consolidated NCI computed",
		slog.Int("subsidiaries", len(subsidiaries)),
		slog.Int("with_nci", len(summary.SubsidiaryResults)))
	return summary, nil
}

func orZero(m money.Money, currency string) money.Money {
	if m.Currency() == "" {
		return money.Zero(currency)
	}
	return m
}

func (c *Calculator) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger.With(slog.String("component", "nci_calculator"))
	}
	return slog.Default().With(slog.String("component", "nci_calculator"))
}
