package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/girvi-engine/pledge"
	"github.com/warp/girvi-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleItem(id string) pledge.JewelryItem {
	return pledge.JewelryItem{
		ID:          pledge.ItemID(id),
		CustomerID:  "cust-7",
		AgentID:     "agent-2",
		Category:    "necklace",
		Purity:      "22K",
		WeightGrams: decimal.RequireFromString("18.350"),
		Principal:   pledge.MustParseMoney("50000"),
		AnnualRate:  decimal.RequireFromString("12.5"),
		Compounding: pledge.CompoundMonthly,
		AcquiredOn:  pledge.NewDate(2024, time.January, 15),
		State:       pledge.StateInHand,
	}
}

// =============================================================================
// ROUND TRIPS ON A REAL DATABASE
// =============================================================================

func TestStore_ItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.CreateItem(ctx, sampleItem("a")))
	assert.ErrorIs(t, st.CreateItem(ctx, sampleItem("a")), pledge.ErrDuplicateItem)

	got, err := st.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Principal.Equal(pledge.MustParseMoney("50000")))
	assert.True(t, got.AnnualRate.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got.WeightGrams.Equal(decimal.RequireFromString("18.35")))
	assert.Equal(t, pledge.NewDate(2024, time.January, 15), got.AcquiredOn)
	assert.Nil(t, got.Dealer)

	_, err = st.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, pledge.ErrItemNotFound)
}

func TestStore_UpdateCustodyAndFilter(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.CreateItem(ctx, sampleItem("a")))
	require.NoError(t, st.CreateItem(ctx, sampleItem("b")))

	it, err := st.GetItem(ctx, "a")
	require.NoError(t, err)
	it.State = pledge.StateWithDealer
	it.Dealer = &pledge.DealerLink{
		DealerID: "d1", Lot: "L-12",
		Advance:       pledge.MustParseMoney("20000.50"),
		Rate:          decimal.NewFromInt(10),
		TransferredOn: pledge.NewDate(2024, time.February, 1),
	}
	require.NoError(t, st.UpdateCustody(ctx, it))

	lot, err := st.ListItems(ctx, pledge.ItemFilter{DealerID: "d1", Lot: "L-12"})
	require.NoError(t, err)
	require.Len(t, lot, 1)
	assert.True(t, lot[0].Dealer.Advance.Equal(pledge.MustParseMoney("20000.5")))

	inHand, err := st.ListItems(ctx, pledge.ItemFilter{State: pledge.StateInHand})
	require.NoError(t, err)
	assert.Len(t, inHand, 1)

	missing := sampleItem("zzz")
	assert.ErrorIs(t, st.UpdateCustody(ctx, missing), pledge.ErrItemNotFound)
}

func TestStore_PaymentsKeepPrecisionAndOrder(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	d := pledge.NewDate(2024, time.March, 1)

	require.NoError(t, st.AppendPayment(ctx, pledge.PaymentRecord{
		ID: "p2", Kind: pledge.KindDealerPayment, ItemID: "a", DealerID: "d1", Lot: "L1",
		Interest: pledge.MustParseMoney("493.15"), Principal: pledge.ZeroMoney(), Date: d.AddDays(3),
		IdempotencyKey: "key-1",
	}))
	require.NoError(t, st.AppendPayment(ctx, pledge.PaymentRecord{
		ID: "p1", Kind: pledge.KindCustomerPayment, ItemID: "a",
		Interest: pledge.ZeroMoney(), Principal: pledge.MustParseMoney("1000.01"), Date: d,
	}))

	err := st.AppendPayment(ctx, pledge.PaymentRecord{
		ID: "p3", Kind: pledge.KindCustomerPayment, ItemID: "a",
		Interest: pledge.ZeroMoney(), Principal: pledge.MustParseMoney("1"), Date: d, IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, pledge.ErrDuplicateIdempotencyKey)

	recs, err := st.Payments(ctx, "a")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, pledge.PaymentID("p1"), recs[0].ID)
	assert.True(t, recs[0].Principal.Equal(pledge.MustParseMoney("1000.01")))
	assert.Equal(t, pledge.DealerID("d1"), recs[1].DealerID)
	assert.Equal(t, "key-1", recs[1].IdempotencyKey)
}

func TestStore_WithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.CreateItem(ctx, sampleItem("a")))

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx pledge.Store) error {
		it, err := tx.GetItem(ctx, "a")
		if err != nil {
			return err
		}
		it.State = pledge.StateReleased
		rel := pledge.NewDate(2024, time.June, 1)
		it.ReleasedOn = &rel
		if err := tx.UpdateCustody(ctx, it); err != nil {
			return err
		}
		if err := tx.AppendClosure(ctx, pledge.DealerClosure{ID: "c1", ItemID: "a", ReturnedOn: rel}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	it, err := st.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, pledge.StateInHand, it.State)
	assert.Nil(t, it.ReleasedOn)

	cs, err := st.Closures(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestStore_ClosuresAndDelete(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.CreateItem(ctx, sampleItem("a")))

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
	assert.Equal(t, pledge.LotNumber("L1"), cs[0].Link.Lot)
	assert.Equal(t, pledge.NewDate(2024, time.May, 1), cs[0].ReturnedOn)

	require.NoError(t, st.DeleteItem(ctx, "a"))
	assert.ErrorIs(t, st.DeleteItem(ctx, "a"), pledge.ErrItemNotFound)

	require.NoError(t, st.Reset(ctx))
}

// =============================================================================
// DRIVER FAILURES (sqlmock)
// =============================================================================

func TestStore_DriverErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectQuery(`(?s)SELECT .* FROM items WHERE id`).
		WillReturnError(errors.New("disk I/O error"))

	_, err = st.GetItem(context.Background(), "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, pledge.ErrItemNotFound)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UniqueIdempotencyKeyMapsToSentinel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectExec("INSERT INTO payments").
		WillReturnError(errors.New("UNIQUE constraint failed: payments.idempotency_key"))

	err = st.AppendPayment(context.Background(), pledge.PaymentRecord{
		ID: "p1", Kind: pledge.KindCustomerPayment, ItemID: "a",
		Interest: pledge.ZeroMoney(), Principal: pledge.NewMoneyFromInt(10),
		Date: pledge.Today(), IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, pledge.ErrDuplicateIdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateCustody_NoRowsIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectExec("UPDATE items SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.UpdateCustody(context.Background(), sampleItem("ghost"))
	assert.ErrorIs(t, err, pledge.ErrItemNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_RollbackOnCallbackError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dealer_closures").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = st.WithTx(context.Background(), func(tx pledge.Store) error {
		if err := tx.AppendClosure(context.Background(), pledge.DealerClosure{ID: "c1", ItemID: "a"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
