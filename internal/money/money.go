// Package money implements the integer minor-unit monetary value type.
// All monetary arithmetic in the application goes through this type; raw
// float math on money is forbidden everywhere else.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyMismatchError is returned when two values of different currencies
// are combined or compared.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

// DivisionByZeroError is returned by Div when the divisor is zero.
type DivisionByZeroError struct {
	Currency string
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("division by zero on %s amount", e.Currency)
}

// Money is an immutable monetary value: an integer amount in the currency's
// minor unit (cents for USD, whole units for CLP, satoshis for BTC).
type Money struct {
	amount   int64
	currency string
}

// FromMinorUnits constructs a value directly from a raw minor-unit integer.
func FromMinorUnits(amount int64, currency string) Money {
	return Money{amount: amount, currency: currency}
}

// FromString parses a decimal display string ("10.50") onto the currency's
// minor-unit grid, rounding half-to-even when the input carries more
// precision than the currency supports.
func FromString(s string, currency string, reg *Registry) (Money, error) {
	minor, err := reg.MinorUnit(currency)
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	raw := d.Shift(int32(minor)).RoundBank(0)
	return Money{amount: raw.IntPart(), currency: currency}, nil
}

// FromFloat converts a plain decimal number onto the minor-unit grid. It
// exists for boundary inputs only; internal code keeps integers throughout.
func FromFloat(f float64, currency string, reg *Registry) (Money, error) {
	minor, err := reg.MinorUnit(currency)
	if err != nil {
		return Money{}, err
	}
	raw := decimal.NewFromFloat(f).Shift(int32(minor)).RoundBank(0)
	return Money{amount: raw.IntPart(), currency: currency}, nil
}

// Amount returns the raw minor-unit integer.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the currency code.
func (m Money) Currency() string { return m.currency }

func (m Money) sameCurrency(n Money) error {
	if m.currency != n.currency {
		return &CurrencyMismatchError{Left: m.currency, Right: n.currency}
	}
	return nil
}

// Add returns m+n. Both operands must share a currency.
func (m Money) Add(n Money) (Money, error) {
	if err := m.sameCurrency(n); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount + n.amount, currency: m.currency}, nil
}

// Sub returns m-n. Both operands must share a currency.
func (m Money) Sub(n Money) (Money, error) {
	if err := m.sameCurrency(n); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount - n.amount, currency: m.currency}, nil
}

// Mul multiplies by an integer scalar.
func (m Money) Mul(n int64) Money {
	return Money{amount: m.amount * n, currency: m.currency}
}

// Div divides by an integer scalar, rounding half-to-even back onto the
// minor-unit grid.
func (m Money) Div(n int64) (Money, error) {
	if n == 0 {
		return Money{}, &DivisionByZeroError{Currency: m.currency}
	}
	q := decimal.NewFromInt(m.amount).
		Div(decimal.NewFromInt(n)).
		RoundBank(0)
	return Money{amount: q.IntPart(), currency: m.currency}, nil
}

// Cmp compares two values of the same currency: -1, 0 or 1.
func (m Money) Cmp(n Money) (int, error) {
	if err := m.sameCurrency(n); err != nil {
		return 0, err
	}
	switch {
	case m.amount < n.amount:
		return -1, nil
	case m.amount > n.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(n Money) bool {
	return m.amount == n.amount && m.currency == n.currency
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.amount < 0 {
		return Money{amount: -m.amount, currency: m.currency}
	}
	return m
}

// Negate returns the value with the sign flipped.
func (m Money) Negate() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

func (m Money) IsZero() bool     { return m.amount == 0 }
func (m Money) IsNegative() bool { return m.amount < 0 }
func (m Money) IsPositive() bool { return m.amount > 0 }

// Format renders the value as a display string with the currency's decimal
// precision, e.g. "-50.00 USD", "1000 CLP".
func (m Money) Format(reg *Registry) string {
	minor, err := reg.MinorUnit(m.currency)
	if err != nil {
		return fmt.Sprintf("%d %s", m.amount, m.currency)
	}
	d := decimal.NewFromInt(m.amount).Shift(int32(-minor))
	return fmt.Sprintf("%s %s", d.StringFixed(int32(minor)), m.currency)
}

// jsonMoney is the wire shape: {"amount": <minor units>, "currency": "USD"}.
type jsonMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMoney{Amount: m.amount, Currency: m.currency})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	var j jsonMoney
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if j.Currency == "" {
		return fmt.Errorf("money value missing currency")
	}
	m.amount = j.Amount
	m.currency = j.Currency
	return nil
}
