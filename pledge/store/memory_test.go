package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/girvi-engine/pledge"
	"github.com/warp/girvi-engine/pledge/store"
)

func testItem(id string) pledge.JewelryItem {
	return pledge.JewelryItem{
		ID:          pledge.ItemID(id),
		CustomerID:  "cust-1",
		Principal:   pledge.NewMoneyFromInt(50000),
		AnnualRate:  decimal.NewFromInt(12),
		Compounding: pledge.CompoundMonthly,
		AcquiredOn:  pledge.NewDate(2024, time.January, 15),
		State:       pledge.StateInHand,
	}
}

func TestMemory_ItemLifecycle(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.CreateItem(ctx, testItem("a")))
	assert.ErrorIs(t, m.CreateItem(ctx, testItem("a")), pledge.ErrDuplicateItem)

	it, err := m.GetItem(ctx, "a")
	require.NoError(t, err)
	it.State = pledge.StateWithDealer
	it.Dealer = &pledge.DealerLink{DealerID: "d1", Lot: "L1", Advance: pledge.NewMoneyFromInt(20000)}
	require.NoError(t, m.UpdateCustody(ctx, it))

	// mutating the returned copy must not leak into the store
	it.Dealer.Lot = "tampered"
	got, err := m.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, pledge.LotNumber("L1"), got.Dealer.Lot)

	list, err := m.ListItems(ctx, pledge.ItemFilter{DealerID: "d1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.DeleteItem(ctx, "a"))
	_, err = m.GetItem(ctx, "a")
	assert.ErrorIs(t, err, pledge.ErrItemNotFound)
}

func TestMemory_PaymentsSortedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	d := pledge.NewDate(2024, time.March, 1)

	require.NoError(t, m.AppendPayment(ctx, pledge.PaymentRecord{ID: "p2", ItemID: "a", Date: d.AddDays(5), IdempotencyKey: "k2"}))
	require.NoError(t, m.AppendPayment(ctx, pledge.PaymentRecord{ID: "p1", ItemID: "a", Date: d}))
	require.NoError(t, m.AppendPayment(ctx, pledge.PaymentRecord{ID: "p3", ItemID: "a", Date: d}))

	err := m.AppendPayment(ctx, pledge.PaymentRecord{ID: "p4", ItemID: "a", Date: d, IdempotencyKey: "k2"})
	assert.ErrorIs(t, err, pledge.ErrDuplicateIdempotencyKey)

	recs, err := m.Payments(ctx, "a")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []pledge.PaymentID{"p1", "p3", "p2"}, []pledge.PaymentID{recs[0].ID, recs[1].ID, recs[2].ID})
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: An item in the store
	// WHEN: A transaction updates custody, appends a closure, then fails
	// THEN: Neither write is visible

	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateItem(ctx, testItem("a")))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx pledge.Store) error {
		it, err := tx.GetItem(ctx, "a")
		if err != nil {
			return err
		}
		it.State = pledge.StateReleased
		if err := tx.UpdateCustody(ctx, it); err != nil {
			return err
		}
		if err := tx.AppendClosure(ctx, pledge.DealerClosure{ID: "c1", ItemID: "a"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	it, err := m.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, pledge.StateInHand, it.State)

	closures, err := m.Closures(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, closures)
}

func TestMemory_WithTx_Commits(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	err := m.WithTx(ctx, func(tx pledge.Store) error {
		if err := tx.CreateItem(ctx, testItem("a")); err != nil {
			return err
		}
		// nested transaction joins the outer one
		return tx.WithTx(ctx, func(inner pledge.Store) error {
			return inner.AppendPayment(ctx, pledge.PaymentRecord{ID: "p1", ItemID: "a", Date: pledge.Today()})
		})
	})
	require.NoError(t, err)

	recs, err := m.Payments(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
