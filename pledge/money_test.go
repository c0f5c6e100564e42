package pledge_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/girvi-engine/pledge"
)

func TestMoney_RoundPaise_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "493.15", pledge.MustParseMoney("493.150684").RoundPaise().Value.StringFixed(2))
	assert.Equal(t, "0.01", pledge.MustParseMoney("0.005").RoundPaise().Value.StringFixed(2))
	assert.Equal(t, int64(49315), pledge.MustParseMoney("493.15").Paise())
}

func TestMoney_HasSubPaise(t *testing.T) {
	assert.False(t, pledge.MustParseMoney("10.10").HasSubPaise())
	assert.True(t, pledge.MustParseMoney("10.101").HasSubPaise())
}

func TestMoney_String_FormatsRupees(t *testing.T) {
	s := pledge.NewMoneyFromInt(50000).String()
	assert.Contains(t, s, "50,000.00")
}

func TestMoney_JSON(t *testing.T) {
	out, err := json.Marshal(pledge.MustParseMoney("493.150684"))
	require.NoError(t, err)
	assert.Equal(t, `"493.15"`, string(out))

	var m pledge.Money
	require.NoError(t, json.Unmarshal([]byte(`"1250.5"`), &m))
	assert.True(t, m.Equal(pledge.MustParseMoney("1250.50")))
	require.NoError(t, json.Unmarshal([]byte(`300`), &m))
	assert.True(t, m.Equal(pledge.NewMoneyFromInt(300)))
}

func TestParseMoney_Invalid(t *testing.T) {
	_, err := pledge.ParseMoney("fifty")
	assert.ErrorIs(t, err, pledge.ErrInvalidAmount)
}

func TestDate_ParseAndCount(t *testing.T) {
	d, err := pledge.ParseDate("2024-02-15")
	require.NoError(t, err)
	assert.Equal(t, pledge.NewDate(2024, time.February, 15), d)
	assert.Equal(t, "2024-02-15", d.String())

	// leap year
	assert.Equal(t, 29, pledge.DaysBetween(pledge.MustParseDate("2024-02-01"), pledge.MustParseDate("2024-03-01")))
	assert.Equal(t, -1, pledge.DaysBetween(d, d.AddDays(-1)))

	_, err = pledge.ParseDate("15/02/2024")
	assert.ErrorIs(t, err, pledge.ErrInvalidDateRange)
}

func TestDate_JSON(t *testing.T) {
	out, err := json.Marshal(pledge.NewDate(2024, time.January, 15))
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-15"`, string(out))

	var d pledge.Date
	require.NoError(t, json.Unmarshal([]byte(`""`), &d))
	assert.True(t, d.IsZero())
}

// =============================================================================
// ERRORS
// =============================================================================

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want pledge.ErrorKind
	}{
		{nil, pledge.KindNone},
		{&pledge.TransitionError{ItemID: "x", Operation: "release", From: pledge.StateWithDealer}, pledge.KindInvalidState},
		{&pledge.LimitError{Kind: pledge.ErrOutstandingBalance, ItemID: "x"}, pledge.KindOutstandingBalance},
		{fmt.Errorf("wrapped: %w", pledge.ErrLotNotFound), pledge.KindNotFound},
		{pledge.ErrDuplicateIdempotencyKey, pledge.KindDuplicate},
		{&pledge.DateError{Value: "x"}, pledge.KindInvalidDate},
		{fmt.Errorf("disk on fire"), pledge.KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pledge.KindOf(tt.err), "%v", tt.err)
	}

	assert.True(t, pledge.IsConflict(pledge.ErrReferencedEntity))
	assert.True(t, pledge.IsClientError(pledge.ErrExceedsAccrued))
	assert.True(t, pledge.IsNotFound(pledge.ErrItemNotFound))
}

func TestGroupLots(t *testing.T) {
	link := func(dealer, lot string, adv int64) *pledge.DealerLink {
		return &pledge.DealerLink{DealerID: pledge.DealerID(dealer), Lot: pledge.LotNumber(lot), Advance: pledge.NewMoneyFromInt(adv)}
	}
	items := []pledge.JewelryItem{
		{ID: "a", State: pledge.StateWithDealer, Dealer: link("d2", "L1", 100)},
		{ID: "b", State: pledge.StateWithDealer, Dealer: link("d1", "L9", 300)},
		{ID: "c", State: pledge.StateWithDealer, Dealer: link("d2", "L1", 50)},
		{ID: "d", State: pledge.StateInHand},
	}

	lots := pledge.GroupLots(items)
	require.Len(t, lots, 2)
	assert.Equal(t, pledge.DealerID("d1"), lots[0].DealerID)
	assert.Equal(t, []pledge.ItemID{"a", "c"}, lots[1].Items)
	assert.True(t, lots[1].Advance.Equal(pledge.NewMoneyFromInt(150)))
}
