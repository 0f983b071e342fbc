package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

func amt(t *testing.T, value, currency string) *money.Money {
	t.Helper()
	m, err := money.NewFromString(value, currency)
	require.NoError(t, err)
	return &m
}

func TestValidateBalance(t *testing.T) {
	lines := []JournalLine{
		{AccountID: uuid.New(), Debit: amt(t, "100.00", "USD")},
		{AccountID: uuid.New(), Credit: amt(t, "100.00", "USD")},
	}
	require.NoError(t, ValidateBalance(lines, "USD"))
}

func TestValidateBalanceUnbalanced(t *testing.T) {
	lines := []JournalLine{
		{AccountID: uuid.New(), Debit: amt(t, "100.00", "USD")},
		{AccountID: uuid.New(), Credit: amt(t, "99.99", "USD")},
	}
	err := ValidateBalance(lines, "USD")

	var unbalanced *UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	require.True(t, unbalanced.TotalDebits.Equal(*amt(t, "100.00", "USD")))
	require.True(t, unbalanced.TotalCredits.Equal(*amt(t, "99.99", "USD")))
	require.True(t, unbalanced.Difference.Equal(*amt(t, "0.01", "USD")))
}

func TestMissingSideTreatedAsZero(t *testing.T) {
	lines := []JournalLine{
		{AccountID: uuid.New(), Debit: amt(t, "50", "USD")},
		{AccountID: uuid.New()},
		{AccountID: uuid.New(), Credit: amt(t, "50", "USD")},
	}
	ok, err := IsBalanced(lines, "USD")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDifference(t *testing.T) {
	lines := []JournalLine{
		{AccountID: uuid.New(), Debit: amt(t, "10", "USD")},
		{AccountID: uuid.New(), Credit: amt(t, "25", "USD")},
	}
	diff, err := Difference(lines, "USD")
	require.NoError(t, err)
	require.True(t, diff.Equal(*amt(t, "15", "USD")))
}

func TestSumRejectsForeignCurrencyLine(t *testing.T) {
	lines := []JournalLine{
		{AccountID: uuid.New(), Debit: amt(t, "10", "USD")},
		{AccountID: uuid.New(), Debit: amt(t, "10", "EUR")},
	}
	_, err := SumDebits(lines, "USD")
	var mismatch *money.CurrencyMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "USD", mismatch.Expected)
	require.Equal(t, "EUR", mismatch.Actual)
}

func TestEmptyLinesBalance(t *testing.T) {
	require.NoError(t, ValidateBalance(nil, "USD"))
	debits, err := SumDebits(nil, "USD")
	require.NoError(t, err)
	require.True(t, debits.IsZero())
}
