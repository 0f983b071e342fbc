package money

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON renders the value as {"amount":"...","currency":"..."} so the
// exact decimal survives storage round-trips.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.String(), Currency: m.currency})
}

// UnmarshalJSON restores a value produced by MarshalJSON. The currency code
// is trusted: round-tripped values were validated at construction.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Amount == "" && raw.Currency == "" {
		*m = Money{}
		return nil
	}
	amount, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return err
	}
	*m = FromDecimal(amount, raw.Currency)
	return nil
}

// MarshalJSON renders the percentage as its decimal string.
func (p Percent) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.value.String())
}

// UnmarshalJSON restores a percentage, re-applying the [0, 100] bounds.
func (p *Percent) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewPercentFromString(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
