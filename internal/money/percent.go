package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrPercentOutOfRange indicates a percentage outside [0, 100].
var ErrPercentOutOfRange = errors.New("money: percentage out of range [0, 100]")

var hundred = decimal.NewFromInt(100)

// Percent is a bounded [0, 100] percentage used for ownership and minority
// interest math.
type Percent struct {
	value decimal.Decimal
}

// NewPercent validates the value into the [0, 100] range.
func NewPercent(value decimal.Decimal) (Percent, error) {
	if value.IsNegative() || value.GreaterThan(hundred) {
		return Percent{}, fmt.Errorf("%w: %s", ErrPercentOutOfRange, value)
	}
	return Percent{value: value}, nil
}

// NewPercentFromString parses a decimal string into a Percent.
func NewPercentFromString(value string) (Percent, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Percent{}, fmt.Errorf("money: parse percent %q: %w", value, err)
	}
	return NewPercent(d)
}

// Value returns the percentage as a decimal in [0, 100].
func (p Percent) Value() decimal.Decimal { return p.value }

// Fraction returns the percentage as a decimal fraction in [0, 1].
func (p Percent) Fraction() decimal.Decimal { return p.value.Div(hundred) }

// Complement returns 100 − p. The result is always in range by construction.
func (p Percent) Complement() Percent {
	return Percent{value: hundred.Sub(p.value)}
}

// ApplyTo scales a monetary amount by the percentage.
func (p Percent) ApplyTo(m Money) Money {
	return m.Multiply(p.Fraction())
}

// IsZero reports whether the percentage is exactly zero.
func (p Percent) IsZero() bool { return p.value.IsZero() }

// IsFull reports whether the percentage is exactly 100.
func (p Percent) IsFull() bool { return p.value.Equal(hundred) }

func (p Percent) String() string { return p.value.String() + "%" }
