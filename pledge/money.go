/*
Package pledge provides the core model of the girvi engine.

PURPOSE:
  Domain types shared by every layer: money, calendar dates, the jewelry item
  and its custody state, payment records, interest accrual math, ledger replay
  and the storage interfaces. It has no knowledge of locking, logging or
  transport; the girvi package orchestrates it.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: a rupee amount backed by decimal.Decimal
  - Rounding to paise happens only at display and when a payment is recorded

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for stored money
  2. No mid-calculation rounding: accrual results keep full precision
  3. Single currency: everything is INR

SEE ALSO:
  - interest.go: accrual math producing unrounded Money
  - ledger.go: replay of payments into a Position
*/
package pledge

import (
	"encoding/json"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency is the only currency the engine handles.
const Currency = money.INR

// PaisePlaces is the number of decimal places in the smallest currency unit.
const PaisePlaces = 2

// =============================================================================
// MONEY - Rupee amount on decimal
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(rupees int64) Money {
	return Money{Value: decimal.NewFromInt(rupees)}
}

// NewMoneyFromPaise builds an amount from an integer count of paise.
func NewMoneyFromPaise(paise int64) Money {
	return Money{Value: decimal.New(paise, -PaisePlaces)}
}

// ParseMoney parses a decimal string such as "50000" or "493.15".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &AmountError{Field: "amount", Value: s, Reason: "not a decimal number"}
	}
	return Money{Value: d}, nil
}

func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(n Money) Money               { return Money{Value: m.Value.Add(n.Value)} }
func (m Money) Sub(n Money) Money               { return Money{Value: m.Value.Sub(n.Value)} }
func (m Money) Mul(d decimal.Decimal) Money     { return Money{Value: m.Value.Mul(d)} }
func (m Money) Neg() Money                      { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool                    { return m.Value.IsZero() }
func (m Money) IsPositive() bool                { return m.Value.IsPositive() }
func (m Money) IsNegative() bool                { return m.Value.IsNegative() }
func (m Money) Equal(n Money) bool              { return m.Value.Equal(n.Value) }
func (m Money) GreaterThan(n Money) bool        { return m.Value.GreaterThan(n.Value) }
func (m Money) LessThan(n Money) bool           { return m.Value.LessThan(n.Value) }
func (m Money) LessThanOrEqual(n Money) bool    { return m.Value.LessThanOrEqual(n.Value) }
func (m Money) GreaterThanOrEqual(n Money) bool { return m.Value.GreaterThanOrEqual(n.Value) }

func (m Money) Min(n Money) Money {
	if m.LessThan(n) {
		return m
	}
	return n
}

func (m Money) Max(n Money) Money {
	if m.GreaterThan(n) {
		return m
	}
	return n
}

// RoundPaise rounds half away from zero to the nearest paisa.
func (m Money) RoundPaise() Money {
	return Money{Value: m.Value.Round(PaisePlaces)}
}

// HasSubPaise reports whether the amount carries precision below one paisa.
func (m Money) HasSubPaise() bool {
	return !m.Value.Equal(m.Value.Round(PaisePlaces))
}

// Paise returns the amount in paise, rounded.
func (m Money) Paise() int64 {
	return m.Value.Shift(PaisePlaces).Round(0).IntPart()
}

// String formats the amount for display, e.g. "₹50,000.00".
func (m Money) String() string {
	return money.New(m.Paise(), Currency).Display()
}

// Decimal returns the unrounded value as a plain decimal string.
func (m Money) Decimal() string {
	return m.Value.String()
}

// MarshalJSON renders the amount rounded to paise as a JSON string so that
// clients never see float artefacts.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Value.StringFixed(PaisePlaces))
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	m.Value = d
	return nil
}

// SumMoney adds a list of amounts.
func SumMoney(ms ...Money) Money {
	total := ZeroMoney()
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}
