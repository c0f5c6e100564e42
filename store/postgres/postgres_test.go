package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/warp/girvi-engine/pledge"
	"github.com/warp/girvi-engine/store/postgres"
)

func testDSN(t *testing.T) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

// openTestStore runs the GORM models on an in-memory SQLite database,
// one per test.
func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	st, err := postgres.Open(context.Background(), sqlite.Open(testDSN(t)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func makeItem(id string, acquired pledge.Date) pledge.JewelryItem {
	return pledge.JewelryItem{
		ID:          pledge.ItemID(id),
		CustomerID:  "cust-1",
		Category:    "bangle",
		WeightGrams: decimal.RequireFromString("12.5"),
		Principal:   pledge.MustParseMoney("35000.75"),
		AnnualRate:  decimal.RequireFromString("18"),
		Compounding: pledge.CompoundQuarterly,
		AcquiredOn:  acquired,
		State:       pledge.StateInHand,
	}
}

func TestStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	jan := pledge.NewDate(2024, time.January, 10)

	require.NoError(t, st.CreateItem(ctx, makeItem("b", jan)))
	require.NoError(t, st.CreateItem(ctx, makeItem("a", jan.AddDays(5))))
	assert.ErrorIs(t, st.CreateItem(ctx, makeItem("a", jan)), pledge.ErrDuplicateItem)

	got, err := st.GetItem(ctx, "b")
	require.NoError(t, err)
	assert.True(t, got.Principal.Equal(pledge.MustParseMoney("35000.75")))
	assert.Equal(t, pledge.CompoundQuarterly, got.Compounding)
	assert.Equal(t, jan, got.AcquiredOn)

	all, err := st.ListItems(ctx, pledge.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, pledge.ItemID("b"), all[0].ID, "ordered by acquisition date")

	_, err = st.GetItem(ctx, "nope")
	assert.ErrorIs(t, err, pledge.ErrItemNotFound)
}

func TestStore_CustodyRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.CreateItem(ctx, makeItem("a", pledge.NewDate(2024, time.January, 10))))

	it, err := st.GetItem(ctx, "a")
	require.NoError(t, err)
	it.State = pledge.StateWithDealer
	it.Dealer = &pledge.DealerLink{
		DealerID: "d1", Lot: "L7", Advance: pledge.MustParseMoney("20000"),
		Rate: decimal.NewFromInt(10), TransferredOn: pledge.NewDate(2024, time.February, 1),
	}
	require.NoError(t, st.UpdateCustody(ctx, it))

	lot, err := st.ListItems(ctx, pledge.ItemFilter{DealerID: "d1", Lot: "L7"})
	require.NoError(t, err)
	require.Len(t, lot, 1)
	require.NotNil(t, lot[0].Dealer)
	assert.True(t, lot[0].Dealer.Advance.Equal(pledge.MustParseMoney("20000")))

	// back in hand clears the dealer columns
	it.State = pledge.StateInHand
	it.Dealer = nil
	require.NoError(t, st.UpdateCustody(ctx, it))
	got, err := st.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got.Dealer)

	assert.ErrorIs(t, st.UpdateCustody(ctx, makeItem("ghost", pledge.Today())), pledge.ErrItemNotFound)
}

func TestStore_PaymentsAndIdempotency(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	d := pledge.NewDate(2024, time.April, 1)
	base := time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"p1", "p2"} {
		require.NoError(t, st.AppendPayment(ctx, pledge.PaymentRecord{
			ID: pledge.PaymentID(id), Kind: pledge.KindCustomerPayment, ItemID: "a",
			Interest: pledge.MustParseMoney("100.10"), Principal: pledge.ZeroMoney(), Date: d,
			IdempotencyKey: "k-" + id, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	err := st.AppendPayment(ctx, pledge.PaymentRecord{
		ID: "p3", Kind: pledge.KindCustomerPayment, ItemID: "a",
		Interest: pledge.MustParseMoney("1"), Principal: pledge.ZeroMoney(), Date: d, IdempotencyKey: "k-p1",
	})
	assert.ErrorIs(t, err, pledge.ErrDuplicateIdempotencyKey)

	recs, err := st.Payments(ctx, "a")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, pledge.PaymentID("p1"), recs[0].ID)
	assert.True(t, recs[0].Interest.Equal(pledge.MustParseMoney("100.10")))
	assert.Equal(t, "k-p1", recs[0].IdempotencyKey)
}

func TestStore_WithTx_Rollback(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.CreateItem(ctx, makeItem("a", pledge.NewDate(2024, time.January, 10))))

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx pledge.Store) error {
		if err := tx.AppendClosure(ctx, pledge.DealerClosure{
			ID: "c1", ItemID: "a", ReturnedOn: pledge.Today(),
			Link: pledge.DealerLink{DealerID: "d1", Lot: "L1", Advance: pledge.NewMoneyFromInt(1), Rate: decimal.NewFromInt(1)},
		}); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, "a"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.GetItem(ctx, "a")
	require.NoError(t, err)
	cs, err := st.Closures(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestStore_Closures(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	c := pledge.DealerClosure{
		ID: "c1", ItemID: "a",
		Link: pledge.DealerLink{
			DealerID: "d1", Lot: "L1", Advance: pledge.MustParseMoney("20000"),
			Rate: decimal.NewFromInt(10), TransferredOn: pledge.NewDate(2024, time.February, 1),
		},
		ReturnedOn: pledge.NewDate(2024, time.May, 1),
	}
	require.NoError(t, st.AppendClosure(ctx, c))

	cs, err := st.Closures(ctx, "a")
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, pledge.NewDate(2024, time.February, 1), cs[0].Link.TransferredOn)
	assert.Equal(t, pledge.NewDate(2024, time.May, 1), cs[0].ReturnedOn)
	assert.True(t, cs[0].Link.Rate.Equal(decimal.NewFromInt(10)))
}

func TestStore_Closures_CorruptDateIsAnError(t *testing.T) {
	// GIVEN: A closure row whose return date was damaged outside the engine
	// WHEN: The closures are loaded
	// THEN: The load fails instead of reading a zero date

	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.AppendClosure(ctx, pledge.DealerClosure{
		ID: "c1", ItemID: "a",
		Link: pledge.DealerLink{
			DealerID: "d1", Lot: "L1", Advance: pledge.MustParseMoney("100"),
			Rate: decimal.NewFromInt(10), TransferredOn: pledge.NewDate(2024, time.February, 1),
		},
		ReturnedOn: pledge.NewDate(2024, time.May, 1),
	}))

	raw, err := gorm.Open(sqlite.Open(testDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, raw.Exec("UPDATE dealer_closures SET returned_on = ? WHERE id = ?", "01/05/2024", "c1").Error)
	if sqlDB, err := raw.DB(); err == nil {
		t.Cleanup(func() { sqlDB.Close() })
	}

	_, err = st.Closures(ctx, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dealer closure c1")
}

func TestStore_PingAndPool(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SetPool(4, 2, time.Minute))
	assert.NoError(t, st.Ping(context.Background()))
}
