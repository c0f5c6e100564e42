package girvi_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/girvi-engine/pledge"
)

func TestEngine_Summary(t *testing.T) {
	// GIVEN: One item in hand, one with a dealer, one released
	// WHEN: The summary is read on 2024-02-15
	// THEN: Counts and both ledgers' totals cover only live items

	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "50000"))
	mustCreate(t, eng, newItem("b", "1000"))
	mustCreate(t, eng, newItem("c", "25000"))

	mustPayCustomer(t, eng, "b", "0", "1000", "2024-02-01")
	_, err := eng.Coordinator.ReleaseSingle(ctx, "b", date("2024-02-01"))
	require.NoError(t, err)
	mustTransfer(t, eng, "c", "d1", "L1", "20000", 10, "2024-02-01")

	s, err := eng.Summary(ctx, date("2024-02-15"))
	require.NoError(t, err)

	assert.Equal(t, 3, s.Items)
	assert.Equal(t, 1, s.ByState[pledge.StateInHand])
	assert.Equal(t, 1, s.ByState[pledge.StateWithDealer])
	assert.Equal(t, 1, s.ByState[pledge.StateReleased])
	assert.Equal(t, 1, s.OpenLots)

	assert.Equal(t, "75000.00", fixed(s.Customer.Outstanding))
	assert.Equal(t, "764.46", fixed(s.Customer.Accrued)) // 509.64 + 254.82
	assert.Equal(t, "20000.00", fixed(s.Dealer.Outstanding))
	assert.Equal(t, "76.71", fixed(s.Dealer.Accrued)) // 14 days at 10%
}

func TestEngine_Summary_BeforeAccrualStarts(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "50000"))
	mustTransfer(t, eng, "a", "d1", "L1", "20000", 10, "2024-02-01")

	s, err := eng.Summary(ctx, date("2024-01-01"))
	require.NoError(t, err)
	assert.True(t, s.Customer.Accrued.IsZero())
	assert.True(t, s.Dealer.Accrued.IsZero())
	assert.Equal(t, "50000.00", fixed(s.Customer.Outstanding))

	empty, err := newEngine(t).Summary(ctx, pledge.Date{})
	require.NoError(t, err)
	assert.Zero(t, empty.Items)
	assert.Equal(t, pledge.DateOf(testNow), empty.AsOf)
	assert.Contains(t, empty.ByState, pledge.StateReleased)
}
