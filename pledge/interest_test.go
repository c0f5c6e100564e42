package pledge_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/girvi-engine/pledge"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func rupees(v float64) pledge.Money { return pledge.NewMoney(v) }

func pct(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func jan15() pledge.Date { return pledge.NewDate(2024, time.January, 15) }

func asFloat(m pledge.Money) float64 {
	f, _ := m.Value.Float64()
	return f
}

// =============================================================================
// ZERO-DAY ACCRUAL
// =============================================================================

func TestCompoundInterest_SameDay_IsExactlyZero(t *testing.T) {
	for _, c := range []pledge.Compounding{
		pledge.CompoundDaily, pledge.CompoundMonthly, pledge.CompoundQuarterly, pledge.CompoundAnnually,
	} {
		got, err := pledge.CompoundInterest(rupees(50000), pct(12), c, jan15(), jan15())
		require.NoError(t, err)
		assert.True(t, got.Value.IsZero(), "%s: expected zero, got %s", c, got.Decimal())
	}
}

func TestSimpleInterest_SameDay_IsExactlyZero(t *testing.T) {
	got, err := pledge.SimpleInterest(rupees(20000), pct(10), jan15(), jan15())
	require.NoError(t, err)
	assert.True(t, got.Value.IsZero())
}

// =============================================================================
// NEGATIVE RANGES
// =============================================================================

func TestInterest_NegativeDays_Rejected(t *testing.T) {
	from := jan15()
	to := from.AddDays(-1)

	_, err := pledge.CompoundInterest(rupees(1000), pct(12), pledge.CompoundMonthly, from, to)
	assert.ErrorIs(t, err, pledge.ErrInvalidDateRange)

	_, err = pledge.SimpleInterest(rupees(1000), pct(12), from, to)
	assert.ErrorIs(t, err, pledge.ErrInvalidDateRange)
}

func TestInterest_NegativeInputs_Rejected(t *testing.T) {
	_, err := pledge.SimpleInterest(rupees(-1), pct(12), jan15(), jan15().AddDays(10))
	assert.ErrorIs(t, err, pledge.ErrInvalidAmount)

	_, err = pledge.CompoundInterest(rupees(1000), pct(-2), pledge.CompoundDaily, jan15(), jan15().AddDays(10))
	assert.ErrorIs(t, err, pledge.ErrInvalidAmount)
}

func TestCompoundInterest_UnknownCompounding_Rejected(t *testing.T) {
	_, err := pledge.CompoundInterest(rupees(1000), pct(12), pledge.Compounding("weekly"), jan15(), jan15().AddDays(7))
	assert.ErrorIs(t, err, pledge.ErrInvalidAmount)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestCompoundInterest_MonthlyScenario_MatchesFormula(t *testing.T) {
	// GIVEN: Rs 50,000 at 12% compounded monthly, acquired 2024-01-15
	// WHEN: Accruing to 2024-02-15 (31 days)
	// THEN: Result equals P*(1+r/n)^(days/365*n) - P

	to := pledge.NewDate(2024, time.February, 15)
	require.Equal(t, 31, pledge.DaysBetween(jan15(), to))

	got, err := pledge.CompoundInterest(rupees(50000), pct(12), pledge.CompoundMonthly, jan15(), to)
	require.NoError(t, err)

	want := 50000*math.Pow(1+0.12/12, 31.0/365*12) - 50000
	assert.InDelta(t, want, asFloat(got), 1e-6)
	assert.Equal(t, "509.64", got.RoundPaise().Value.StringFixed(2))
}

func TestSimpleInterest_DealerScenario(t *testing.T) {
	// GIVEN: Dealer advance Rs 20,000 at 10% simple
	// WHEN: Accruing over 90 days
	// THEN: 20000 * 0.10 * 90/365 = 493.15 after rounding

	got, err := pledge.SimpleInterest(rupees(20000), pct(10), jan15(), jan15().AddDays(90))
	require.NoError(t, err)

	assert.InDelta(t, 20000*0.10*90/365, asFloat(got), 1e-9)
	assert.Equal(t, "493.15", got.RoundPaise().Value.StringFixed(2))
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestSimpleInterest_LinearInDays(t *testing.T) {
	base, err := pledge.SimpleInterest(rupees(12345.67), pct(18), jan15(), jan15().AddDays(1))
	require.NoError(t, err)

	for _, days := range []int{2, 7, 30, 91, 365, 1000} {
		got, err := pledge.SimpleInterest(rupees(12345.67), pct(18), jan15(), jan15().AddDays(days))
		require.NoError(t, err)
		assert.InDelta(t, asFloat(base)*float64(days), asFloat(got), 1e-6, "days=%d", days)
	}
}

func TestCompoundInterest_StrictlyIncreasingInDays(t *testing.T) {
	for _, c := range []pledge.Compounding{
		pledge.CompoundDaily, pledge.CompoundMonthly, pledge.CompoundQuarterly, pledge.CompoundAnnually,
	} {
		prev := pledge.ZeroMoney()
		for days := 1; days <= 400; days += 13 {
			got, err := pledge.CompoundInterest(rupees(50000), pct(24), c, jan15(), jan15().AddDays(days))
			require.NoError(t, err)
			assert.True(t, got.GreaterThan(prev), "%s: day %d not above previous", c, days)
			prev = got
		}
	}
}

func TestCompoundInterest_ExceedsSimpleAfterOneYear(t *testing.T) {
	from := jan15()
	to := from.AddDays(730)

	compound, err := pledge.CompoundInterest(rupees(10000), pct(12), pledge.CompoundMonthly, from, to)
	require.NoError(t, err)
	simple, err := pledge.SimpleInterest(rupees(10000), pct(12), from, to)
	require.NoError(t, err)

	assert.True(t, compound.GreaterThan(simple))
}

func TestAccrue_DispatchesOnRegime(t *testing.T) {
	from := jan15()
	to := from.AddDays(90)

	simpleTerms := pledge.Terms{Regime: pledge.RegimeSimple, RatePct: pct(10)}
	got, err := pledge.Accrue(simpleTerms, rupees(20000), from, to)
	require.NoError(t, err)
	want, _ := pledge.SimpleInterest(rupees(20000), pct(10), from, to)
	assert.True(t, want.Equal(got))

	_, err = pledge.Accrue(pledge.Terms{Regime: "flat"}, rupees(1), from, to)
	assert.Error(t, err)
}

func TestParseCompounding(t *testing.T) {
	c, err := pledge.ParseCompounding(" Monthly ")
	require.NoError(t, err)
	assert.Equal(t, pledge.CompoundMonthly, c)
	assert.Equal(t, 12, c.PeriodsPerYear())

	_, err = pledge.ParseCompounding("fortnightly")
	assert.ErrorIs(t, err, pledge.ErrInvalidAmount)
}
