package translate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian-consol/internal/ledger"
	"github.com/meridian-fin/meridian-consol/internal/money"
)

func eur(t *testing.T, amount string) money.Money {
	t.Helper()
	m, err := money.NewFromString(amount, "EUR")
	require.NoError(t, err)
	return m
}

func usd(t *testing.T, amount string) money.Money {
	t.Helper()
	m, err := money.NewFromString(amount, "USD")
	require.NoError(t, err)
	return m
}

func account(number, name string, accountType ledger.AccountType, category string) ledger.Account {
	return ledger.Account{ID: uuid.New(), Number: number, Name: name, Type: accountType, Category: category}
}

func baseInput(t *testing.T) Input {
	t.Helper()
	return Input{
		CompanyID:          uuid.New(),
		CompanyName:        "Meridian GmbH",
		FunctionalCurrency: "EUR",
		ReportingCurrency:  "USD",
		AsOf:               time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		Lines: []AccountLine{
			{Account: account("1000", "Cash", ledger.TypeAsset, "Cash"), Balance: eur(t, "1000")},
			{Account: account("1400", "Inventory", ledger.TypeAsset, "Inventory"), Balance: eur(t, "500")},
			{Account: account("2000", "Accounts Payable", ledger.TypeLiability, "Payables"), Balance: eur(t, "600")},
			{Account: account("3000", "Common Stock", ledger.TypeEquity, ledger.CategoryContributedCapital), Balance: eur(t, "400")},
			{Account: account("3900", "Retained Earnings", ledger.TypeEquity, ledger.CategoryRetainedEarnings), Balance: eur(t, "300")},
			{Account: account("4000", "Revenue", ledger.TypeRevenue, "Sales"), Balance: eur(t, "2000")},
			{Account: account("5000", "Operating Expense", ledger.TypeExpense, "Opex"), Balance: eur(t, "1800")},
		},
		NetIncome:         eur(t, "200"),
		DividendsDeclared: eur(t, "0"),
		Rates: Rates{
			Closing: decimal.NewFromFloat(1.1),
			Average: decimal.NewFromFloat(1.05),
			Historical: map[string]decimal.Decimal{
				"1400": decimal.NewFromInt(1),
				"3000": decimal.NewFromInt(1),
			},
			PriorCTA:            usd(t, "0"),
			TranslatedOpeningRE: usd(t, "280"),
		},
	}
}

func TestTranslateBalancesByConstruction(t *testing.T) {
	engine := NewEngine(nil)
	result, err := engine.Translate(baseInput(t))
	require.NoError(t, err)

	require.True(t, result.TotalAssets.Equal(usd(t, "1600")), "assets: %s", result.TotalAssets)
	require.True(t, result.TotalLiabilities.Equal(usd(t, "660")))
	require.True(t, result.ClosingRetainedEarnings.Equal(usd(t, "490")), "closing RE: %s", result.ClosingRetainedEarnings)
	require.True(t, result.ClosingCTA.Equal(usd(t, "50")), "CTA plug: %s", result.ClosingCTA)
	require.True(t, result.CurrentPeriodCTA.Equal(usd(t, "50")))
	require.True(t, result.IsBalanced)
	require.Empty(t, result.Warnings)
}

func TestTranslateRecordsAppliedRateTypes(t *testing.T) {
	engine := NewEngine(nil)
	result, err := engine.Translate(baseInput(t))
	require.NoError(t, err)

	byNumber := make(map[string]TranslatedLine)
	for _, line := range result.Lines {
		byNumber[line.Account.Number] = line
	}

	require.Equal(t, RateClosing, byNumber["1000"].RateType)
	require.Equal(t, RateHistorical, byNumber["1400"].RateType)
	require.Equal(t, RateHistorical, byNumber["3000"].RateType)
	require.Equal(t, RateCalculated, byNumber["3900"].RateType)
	require.Equal(t, RateAverage, byNumber["4000"].RateType)
	require.Equal(t, RateAverage, byNumber["5000"].RateType)
	require.True(t, byNumber["4000"].Translated.Equal(usd(t, "2100")))
}

func TestTranslateSameCurrencyCollapsesRates(t *testing.T) {
	in := baseInput(t)
	in.FunctionalCurrency = "USD"
	in.ReportingCurrency = "USD"
	for i := range in.Lines {
		in.Lines[i].Balance = money.FromDecimal(in.Lines[i].Balance.Amount(), "USD")
	}
	in.NetIncome = usd(t, "200")
	in.DividendsDeclared = usd(t, "0")
	in.Rates.PriorCTA = usd(t, "12.50")

	engine := NewEngine(nil)
	result, err := engine.Translate(in)
	require.NoError(t, err)

	for _, line := range result.Lines {
		if line.RateType == RateCalculated {
			continue
		}
		require.True(t, line.Rate.Equal(decimal.NewFromInt(1)), "account %s rate %s", line.Account.Number, line.Rate)
	}
	require.True(t, result.CurrentPeriodCTA.IsZero())
	require.True(t, result.ClosingCTA.Equal(usd(t, "12.50")), "prior CTA passes through")
}

func TestTranslateHistoricalFallbackWarns(t *testing.T) {
	in := baseInput(t)
	delete(in.Rates.Historical, "3000")

	engine := NewEngine(nil)
	result, err := engine.Translate(in)
	require.NoError(t, err)

	var stock TranslatedLine
	for _, line := range result.Lines {
		if line.Account.Number == "3000" {
			stock = line
		}
	}
	require.Equal(t, RateClosing, stock.RateType)
	require.True(t, stock.Rate.Equal(decimal.NewFromFloat(1.1)))
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "3000")
	require.True(t, result.IsBalanced, "CTA absorbs the fallback")
}

func TestTranslateMissingClosingRate(t *testing.T) {
	in := baseInput(t)
	in.Rates.Closing = decimal.Zero

	engine := NewEngine(nil)
	_, err := engine.Translate(in)

	var notFound *RateNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, RateClosing, notFound.RateType)
	require.Equal(t, "EUR", notFound.FromCurrency)
	require.Equal(t, "USD", notFound.ToCurrency)
}

func TestTranslateRejectsForeignLine(t *testing.T) {
	in := baseInput(t)
	in.Lines[0].Balance = usd(t, "1000")

	engine := NewEngine(nil)
	_, err := engine.Translate(in)

	var mismatch *money.CurrencyMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "EUR", mismatch.Expected)
}

func TestTranslateDividendRateOverride(t *testing.T) {
	in := baseInput(t)
	in.DividendsDeclared = eur(t, "100")
	divRate := decimal.NewFromFloat(1.2)
	in.Rates.DividendRate = &divRate

	engine := NewEngine(nil)
	result, err := engine.Translate(in)
	require.NoError(t, err)

	// 280 + 200*1.05 - 100*1.2 = 370
	require.True(t, result.ClosingRetainedEarnings.Equal(usd(t, "370")))
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		account ledger.Account
		want    Category
	}{
		{account("1", "", ledger.TypeAsset, "Cash"), CategoryMonetaryAsset},
		{account("2", "", ledger.TypeAsset, "FixedAssets"), CategoryNonMonetaryAsset},
		{account("3", "", ledger.TypeLiability, "Payables"), CategoryMonetaryLiability},
		{account("4", "", ledger.TypeLiability, "DeferredRevenue"), CategoryNonMonetaryLiability},
		{account("5", "", ledger.TypeEquity, ledger.CategoryContributedCapital), CategoryCapitalStock},
		{account("6", "", ledger.TypeEquity, ledger.CategoryRetainedEarnings), CategoryRetainedEarnings},
		{account("7", "", ledger.TypeEquity, ledger.CategoryOtherComprehensiveIncome), CategoryOCI},
		{account("8", "", ledger.TypeEquity, ledger.CategoryTreasuryStock), CategoryTreasuryStock},
		{account("9", "", ledger.TypeEquity, "SharePremium"), CategoryAPIC},
		{account("10", "", ledger.TypeRevenue, "Sales"), CategoryRevenue},
		{account("11", "", ledger.TypeExpense, "Opex"), CategoryExpense},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Categorize(tc.account), "category for %s", tc.account.Category)
	}
}

func TestHistoricalRateRequired(t *testing.T) {
	in := baseInput(t)
	delete(in.Rates.Historical, "3000")
	in.Rates.Historical["3000"] = decimal.Zero

	engine := NewEngine(nil)
	_, err := engine.Translate(in)

	var required *HistoricalRateRequiredError
	require.ErrorAs(t, err, &required)
	require.Equal(t, "3000", required.AccountNumber)
}
