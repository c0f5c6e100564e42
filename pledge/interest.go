/*
interest.go - Interest accrual calculator

PURPOSE:
  Pure functions computing the interest accrued on a principal between two
  dates. No state, no rounding: results keep full decimal precision and are
  rounded to paise only when displayed or recorded.

REGIMES:
  Compound (customer owes shop):
    periods       = days/365 * n
    ratePerPeriod = r/100/n
    interest      = P * (1 + ratePerPeriod)^periods - P
    n = 365 daily, 12 monthly, 4 quarterly, 1 annually

  Simple (shop owes dealer):
    interest = P * r/100 * days/365

DATES:
  days is the count of calendar days from -> to. A negative count is an
  error; from == to accrues exactly zero.

EXAMPLE:
  Rs 20,000 at 10% simple for 90 days:
    20000 * 0.10 * 90/365 = 493.150684...

SEE ALSO:
  - ledger.go: applies these functions to the outstanding principal
*/
package pledge

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DaysPerYear is the day-count basis for both regimes.
const DaysPerYear = 365

var (
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(DaysPerYear)
)

// =============================================================================
// COMPOUNDING FREQUENCY
// =============================================================================

type Compounding string

const (
	CompoundDaily     Compounding = "daily"
	CompoundMonthly   Compounding = "monthly"
	CompoundQuarterly Compounding = "quarterly"
	CompoundAnnually  Compounding = "annually"
)

// PeriodsPerYear returns n for the compounding frequency, or 0 if unknown.
func (c Compounding) PeriodsPerYear() int {
	switch c {
	case CompoundDaily:
		return 365
	case CompoundMonthly:
		return 12
	case CompoundQuarterly:
		return 4
	case CompoundAnnually:
		return 1
	}
	return 0
}

func (c Compounding) IsValid() bool { return c.PeriodsPerYear() > 0 }

func ParseCompounding(s string) (Compounding, error) {
	c := Compounding(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", &AmountError{Field: "compounding", Value: s, Reason: "expected daily, monthly, quarterly or annually"}
	}
	return c, nil
}

// =============================================================================
// REGIME & TERMS
// =============================================================================

type Regime string

const (
	RegimeCompound Regime = "compound"
	RegimeSimple   Regime = "simple"
)

// Terms are the inputs of one accrual: who owes what, at which rate, since when.
type Terms struct {
	Principal   Money
	RatePct     decimal.Decimal
	Regime      Regime
	Compounding Compounding // compound regime only
	Start       Date
}

// =============================================================================
// CALCULATOR
// =============================================================================

// CompoundInterest returns the compound interest on principal from -> to.
func CompoundInterest(principal Money, annualRatePct decimal.Decimal, c Compounding, from, to Date) (Money, error) {
	days, err := accrualDays(principal, annualRatePct, from, to)
	if err != nil {
		return Money{}, err
	}
	n := c.PeriodsPerYear()
	if n == 0 {
		return Money{}, &AmountError{Field: "compounding", Value: string(c), Reason: "unknown frequency"}
	}
	if days == 0 || principal.IsZero() || annualRatePct.IsZero() {
		return ZeroMoney(), nil
	}

	rate, _ := annualRatePct.Float64()
	ratePerPeriod := rate / 100 / float64(n)
	periods := float64(days) / DaysPerYear * float64(n)
	growth := math.Pow(1+ratePerPeriod, periods)

	return principal.Mul(decimal.NewFromFloat(growth)).Sub(principal), nil
}

// SimpleInterest returns the simple interest on principal from -> to.
func SimpleInterest(principal Money, annualRatePct decimal.Decimal, from, to Date) (Money, error) {
	days, err := accrualDays(principal, annualRatePct, from, to)
	if err != nil {
		return Money{}, err
	}
	if days == 0 {
		return ZeroMoney(), nil
	}
	factor := annualRatePct.Div(hundred).Mul(decimal.NewFromInt(int64(days))).Div(daysPerYear)
	return principal.Mul(factor), nil
}

// Accrue dispatches on the regime of the terms, using principal in place of
// terms.Principal (the ledger accrues on what is still outstanding).
func Accrue(terms Terms, principal Money, from, to Date) (Money, error) {
	switch terms.Regime {
	case RegimeCompound:
		return CompoundInterest(principal, terms.RatePct, terms.Compounding, from, to)
	case RegimeSimple:
		return SimpleInterest(principal, terms.RatePct, from, to)
	}
	return Money{}, fmt.Errorf("unknown interest regime %q", terms.Regime)
}

func accrualDays(principal Money, rate decimal.Decimal, from, to Date) (int, error) {
	if principal.IsNegative() {
		return 0, &AmountError{Field: "principal", Value: principal.Decimal(), Reason: "must not be negative"}
	}
	if rate.IsNegative() {
		return 0, &AmountError{Field: "rate", Value: rate.String(), Reason: "must not be negative"}
	}
	days := DaysBetween(from, to)
	if days < 0 {
		return 0, &DateError{Value: to.String(), Reason: fmt.Sprintf("before %s", from)}
	}
	return days, nil
}
