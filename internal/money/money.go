// Package money provides exact-decimal monetary values bound to an ISO 4217
// currency. Arithmetic between two values requires identical currencies and
// fails explicitly instead of coercing.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MinScale is the minimum number of fractional digits carried by a Money value.
const MinScale = 4

// ErrDivisionByZero is returned when dividing a Money by zero.
var ErrDivisionByZero = errors.New("money: division by zero")

// ErrInvalidCurrency indicates the currency code is not a known ISO 4217 unit.
var ErrInvalidCurrency = errors.New("money: invalid currency code")

// CurrencyMismatchError reports an operation across two different currencies.
type CurrencyMismatchError struct {
	Expected string
	Actual   string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("money: currency mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Money is an immutable exact-decimal amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New constructs a Money value after validating the currency code.
func New(amount decimal.Decimal, code string) (Money, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := currency.ParseISO(code); err != nil {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidCurrency, code)
	}
	return Money{amount: rescaleMin(amount), currency: code}, nil
}

// NewFromString parses a decimal string into a Money value.
func NewFromString(amount, code string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse amount %q: %w", amount, err)
	}
	return New(d, code)
}

// Zero returns a zero amount in the given currency. The code is trusted here;
// callers validating external input should use New.
func Zero(code string) Money {
	return Money{amount: rescaleMin(decimal.Zero), currency: strings.ToUpper(strings.TrimSpace(code))}
}

// FromDecimal builds a Money without revalidating the currency code. Intended
// for internal conversions where the code was validated upstream.
func FromDecimal(amount decimal.Decimal, code string) Money {
	return Money{amount: rescaleMin(amount), currency: strings.ToUpper(strings.TrimSpace(code))}
}

// rescaleMin pads the amount to at least MinScale fractional digits. Finer
// scales are left untouched, so arithmetic precision never degrades.
func rescaleMin(d decimal.Decimal) decimal.Decimal {
	if -d.Exponent() >= MinScale {
		return d
	}
	d, _ = decimal.RescalePair(d, decimal.New(0, -MinScale))
	return d
}

// Amount returns the underlying decimal value.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO 4217 currency code.
func (m Money) Currency() string { return m.currency }

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return &CurrencyMismatchError{Expected: m.currency, Actual: other.currency}
	}
	return nil
}

// Add returns m + other, failing on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract returns m − other, failing on currency mismatch.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Multiply scales the amount by a dimensionless factor. It never fails.
func (m Money) Multiply(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// Divide divides the amount by a dimensionless divisor.
func (m Money) Divide(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return Money{amount: m.amount.Div(divisor), currency: m.currency}, nil
}

// Negate flips the sign of the amount.
func (m Money) Negate() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// Round rounds half away from zero to the given number of fractional digits.
// It never fails.
func (m Money) Round(places int32) Money {
	return Money{amount: rescaleMin(m.amount.Round(places)), currency: m.currency}
}

// Cmp compares two amounts: -1 if m < other, 0 if equal, 1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports exact-decimal equality of amount and currency. Scale does not
// participate: 1.5 USD equals 1.5000 USD.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// GreaterThan reports m > other, failing on currency mismatch.
func (m Money) GreaterThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// LessThan reports m < other, failing on currency mismatch.
func (m Money) LessThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Min returns the smaller of two amounts, failing on currency mismatch.
func Min(a, b Money) (Money, error) {
	less, err := a.LessThan(b)
	if err != nil {
		return Money{}, err
	}
	if less {
		return a, nil
	}
	return b, nil
}

// Max returns the larger of two amounts, failing on currency mismatch.
func Max(a, b Money) (Money, error) {
	greater, err := a.GreaterThan(b)
	if err != nil {
		return Money{}, err
	}
	if greater {
		return a, nil
	}
	return b, nil
}

// Sum folds a list of amounts into a zero-seeded total in the given currency.
// Any element in a different currency fails the whole fold.
func Sum(code string, items ...Money) (Money, error) {
	total := Zero(code)
	for _, item := range items {
		var err error
		total, err = total.Add(item)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// String renders the amount with at least MinScale fractional digits.
func (m Money) String() string {
	scale := -m.amount.Exponent()
	if scale < MinScale {
		scale = MinScale
	}
	return m.amount.StringFixed(scale) + " " + m.currency
}
