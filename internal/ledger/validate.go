package ledger

import (
	"fmt"

	"github.com/meridian-fin/meridian-consol/internal/money"
)

// UnbalancedError reports a line set whose debits and credits do not agree.
type UnbalancedError struct {
	TotalDebits  money.Money
	TotalCredits money.Money
	Difference   money.Money
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("ledger: entry not balanced: debits %s, credits %s, difference %s",
		e.TotalDebits, e.TotalCredits, e.Difference)
}

// SumDebits folds the debit side of the lines into a zero-seeded total in the
// given functional currency.
func SumDebits(lines []JournalLine, currency string) (money.Money, error) {
	total := money.Zero(currency)
	for _, line := range lines {
		if line.Debit == nil {
			continue
		}
		var err error
		total, err = total.Add(*line.Debit)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// SumCredits folds the credit side of the lines into a zero-seeded total in
// the given functional currency.
func SumCredits(lines []JournalLine, currency string) (money.Money, error) {
	total := money.Zero(currency)
	for _, line := range lines {
		if line.Credit == nil {
			continue
		}
		var err error
		total, err = total.Add(*line.Credit)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// ValidateBalance proves the line set satisfies double-entry balance. It
// returns an UnbalancedError carrying both totals and their absolute
// difference unless the sums are exactly equal.
func ValidateBalance(lines []JournalLine, currency string) error {
	debits, err := SumDebits(lines, currency)
	if err != nil {
		return err
	}
	credits, err := SumCredits(lines, currency)
	if err != nil {
		return err
	}
	if debits.Equal(credits) {
		return nil
	}
	diff, err := debits.Subtract(credits)
	if err != nil {
		return err
	}
	return &UnbalancedError{TotalDebits: debits, TotalCredits: credits, Difference: diff.Abs()}
}

// IsBalanced is the non-failing variant of ValidateBalance.
func IsBalanced(lines []JournalLine, currency string) (bool, error) {
	debits, err := SumDebits(lines, currency)
	if err != nil {
		return false, err
	}
	credits, err := SumCredits(lines, currency)
	if err != nil {
		return false, err
	}
	return debits.Equal(credits), nil
}

// Difference returns |debits − credits| for the line set.
func Difference(lines []JournalLine, currency string) (money.Money, error) {
	debits, err := SumDebits(lines, currency)
	if err != nil {
		return money.Money{}, err
	}
	credits, err := SumCredits(lines, currency)
	if err != nil {
		return money.Money{}, err
	}
	diff, err := debits.Subtract(credits)
	if err != nil {
		return money.Money{}, err
	}
	return diff.Abs(), nil
}
