// Package money provides an exact-decimal monetary value carrying a
// currency code. All ledger arithmetic goes through this type; floats
// never enter the picture.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// New creates a Money from a decimal amount and a currency code.
func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// MustParse builds a Money from a decimal string, panicking on bad input.
// Intended for constants and tests.
func MustParse(amount, currency string) Money {
	d, err := ParseDecimal(amount)
	if err != nil {
		panic(err)
	}
	return Money{Amount: d, Currency: currency}
}

// ParseDecimal parses a monetary amount string into an exact decimal,
// quantized to two places. Bank CSV exports write "1.234,56" or
// "1,234.56": the last separator is the decimal mark, any before it
// are grouping.
func ParseDecimal(s string) (decimal.Decimal, error) {
	normalized := strings.TrimSpace(s)
	if i := strings.LastIndexAny(normalized, ".,"); i >= 0 {
		if normalized[i] == ',' || strings.ContainsAny(normalized[:i], ".,") {
			head := strings.NewReplacer(".", "", ",", "").Replace(normalized[:i])
			normalized = head + "." + normalized[i+1:]
		}
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return d.Round(2), nil
}

func (m Money) sameCurrency(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("currency mismatch: %s vs %s", m.Currency, o.Currency))
	}
}

// Add returns m + o. Both operands must share a currency.
func (m Money) Add(o Money) Money {
	m.sameCurrency(o)
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}
}

// Sub returns m - o. Both operands must share a currency.
func (m Money) Sub(o Money) Money {
	m.sameCurrency(o)
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}
}

// Cmp compares two amounts of the same currency: -1 if m < o, 0 if
// equal, +1 if m > o.
func (m Money) Cmp(o Money) int {
	m.sameCurrency(o)
	return m.Amount.Cmp(o.Amount)
}

// Equal reports whether both amount and currency match exactly.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool { return m.Cmp(o) < 0 }

// IsZero reports whether the amount is exactly zero. Monetary zero
// checks are exact equality, never an epsilon comparison.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is strictly below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Min returns the smaller of two amounts in the same currency.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Sum adds all amounts onto zero in the given currency.
func Sum(currency string, amounts ...Money) Money {
	total := Zero(currency)
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// String renders the amount with two decimal places, e.g. "32.00 EUR".
func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}
