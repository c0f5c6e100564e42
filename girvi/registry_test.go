package girvi_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/girvi-engine/girvi"
	"github.com/warp/girvi-engine/pledge"
)

// =============================================================================
// CREATE
// =============================================================================

func TestRegistry_Create(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	item := mustCreate(t, eng, newItem("a", "50000.004"))
	assert.Equal(t, pledge.StateInHand, item.State)
	assert.Equal(t, "50000.00", fixed(item.Principal))
	assert.False(t, item.Principal.HasSubPaise(), "principal is rounded to paise")
	assert.Nil(t, item.Dealer)
	assert.Equal(t, testNow, item.CreatedAt)

	_, err := eng.Registry.Create(ctx, newItem("a", "100"))
	assert.ErrorIs(t, err, pledge.ErrDuplicateItem)

	generated := newItem("", "100")
	got, err := eng.Registry.Create(ctx, generated)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)

	undated := newItem("undated", "100")
	undated.AcquiredOn = pledge.Date{}
	got, err = eng.Registry.Create(ctx, undated)
	require.NoError(t, err)
	assert.Equal(t, pledge.DateOf(testNow), got.AcquiredOn)
}

func TestRegistry_Create_RejectsInvalidTerms(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*girvi.NewItem)
		want   error
	}{
		{"missing customer", func(n *girvi.NewItem) { n.CustomerID = "" }, pledge.ErrInvalidInput},
		{"missing agent", func(n *girvi.NewItem) { n.AgentID = "" }, pledge.ErrInvalidInput},
		{"zero principal", func(n *girvi.NewItem) { n.Principal = pledge.ZeroMoney() }, pledge.ErrInvalidAmount},
		{"negative principal", func(n *girvi.NewItem) { n.Principal = inr("-5") }, pledge.ErrInvalidAmount},
		{"zero rate", func(n *girvi.NewItem) { n.AnnualRate = decimal.Zero }, pledge.ErrInvalidAmount},
		{"rate above 100", func(n *girvi.NewItem) { n.AnnualRate = decimal.RequireFromString("100.5") }, pledge.ErrInvalidAmount},
		{"unknown compounding", func(n *girvi.NewItem) { n.Compounding = "weekly" }, pledge.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine(t)
			in := newItem("a", "1000")
			tt.mutate(&in)
			_, err := eng.Registry.Create(context.Background(), in)
			assert.ErrorIs(t, err, tt.want)

			_, err = eng.Registry.Get(context.Background(), "a")
			assert.ErrorIs(t, err, pledge.ErrItemNotFound, "rejected item must not be stored")
		})
	}
}

// =============================================================================
// TRANSFER TO DEALER
// =============================================================================

func TestRegistry_TransferToDealer(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "25000"))

	item, err := eng.Registry.TransferToDealer(ctx, "a", "L1", "d1", pct(10), inr("20000"), date("2024-02-01"))
	require.NoError(t, err)
	assert.Equal(t, pledge.StateWithDealer, item.State)
	require.NotNil(t, item.Dealer)
	assert.Equal(t, pledge.DealerID("d1"), item.Dealer.DealerID)
	assert.Equal(t, date("2024-02-01"), item.Dealer.TransferredOn)

	_, err = eng.Registry.TransferToDealer(ctx, "a", "L2", "d2", pct(10), inr("100"), date("2024-02-02"))
	assert.ErrorIs(t, err, pledge.ErrInvalidState, "already with a dealer")

	lots, err := eng.Registry.Lots(ctx)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, []pledge.ItemID{"a"}, lots[0].Items)
	assert.Equal(t, "20000.00", fixed(lots[0].Advance))
}

func TestRegistry_TransferToDealer_Validation(t *testing.T) {
	tests := []struct {
		name    string
		dealer  pledge.DealerID
		lot     pledge.LotNumber
		rate    decimal.Decimal
		advance string
		on      string
		want    error
	}{
		{"zero advance", "d1", "L1", pct(10), "0", "2024-02-01", pledge.ErrInvalidAmount},
		{"negative advance", "d1", "L1", pct(10), "-1", "2024-02-01", pledge.ErrInvalidAmount},
		{"advance above principal", "d1", "L1", pct(10), "25000.01", "2024-02-01", pledge.ErrInvalidAmount},
		{"sub-paisa advance", "d1", "L1", pct(10), "100.001", "2024-02-01", pledge.ErrInvalidAmount},
		{"zero dealer rate", "d1", "L1", decimal.Zero, "100", "2024-02-01", pledge.ErrInvalidAmount},
		{"missing dealer", "", "L1", pct(10), "100", "2024-02-01", pledge.ErrInvalidInput},
		{"missing lot", "d1", "", pct(10), "100", "2024-02-01", pledge.ErrInvalidInput},
		{"before acquisition", "d1", "L1", pct(10), "100", "2024-01-14", pledge.ErrInvalidDateRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine(t)
			mustCreate(t, eng, newItem("a", "25000"))

			_, err := eng.Registry.TransferToDealer(context.Background(), "a", tt.lot, tt.dealer, tt.rate, inr(tt.advance), date(tt.on))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, pledge.StateInHand, state(t, eng, "a"))
		})
	}

	t.Run("advance equal to principal", func(t *testing.T) {
		eng := newEngine(t)
		mustCreate(t, eng, newItem("a", "25000"))
		_, err := eng.Registry.TransferToDealer(context.Background(), "a", "L1", "d1", pct(10), inr("25000"), date("2024-02-01"))
		assert.NoError(t, err)
	})

	t.Run("unknown item", func(t *testing.T) {
		eng := newEngine(t)
		_, err := eng.Registry.TransferToDealer(context.Background(), "ghost", "L1", "d1", pct(10), inr("1"), date("2024-02-01"))
		assert.ErrorIs(t, err, pledge.ErrItemNotFound)
	})
}

// =============================================================================
// RELEASE FROM DEALER
// =============================================================================

func TestRegistry_TransferThenReturn_LeavesCustomerLedgerUntouched(t *testing.T) {
	// GIVEN: An item with a customer payment on record
	// WHEN: It is transferred to a dealer and returned the same day with no dealer payments
	// THEN: The item is back InHand, the customer statement is unchanged and
	//       the stint is kept as a closure

	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "25000"))
	mustPayCustomer(t, eng, "a", "0", "5000", "2024-01-25")

	before, err := eng.Customer.Statement(ctx, "a", date("2024-05-01"))
	require.NoError(t, err)

	mustTransfer(t, eng, "a", "d1", "L1", "20000", 10, "2024-02-01")
	item, err := eng.Registry.ReleaseFromDealer(ctx, "a", date("2024-02-01"))
	require.NoError(t, err)
	assert.Equal(t, pledge.StateInHand, item.State)
	assert.Nil(t, item.Dealer)

	after, err := eng.Customer.Statement(ctx, "a", date("2024-05-01"))
	require.NoError(t, err)
	assert.True(t, before.Outstanding.Equal(after.Outstanding))
	assert.True(t, before.Accrued.Equal(after.Accrued))
	assert.Equal(t, before.Payments, after.Payments)

	closures, err := eng.Registry.Closures(ctx, "a")
	require.NoError(t, err)
	require.Len(t, closures, 1)
	assert.Equal(t, pledge.LotNumber("L1"), closures[0].Link.Lot)
	assert.Equal(t, date("2024-02-01"), closures[0].ReturnedOn)
}

func TestRegistry_ReleaseFromDealer_RequiresSettledAdvance(t *testing.T) {
	// GIVEN: An item with a dealer for a month
	// WHEN: It is returned while the advance is unpaid, then after repaying it
	// THEN: The first return fails with OutstandingBalance, the second succeeds

	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "25000"))
	mustTransfer(t, eng, "a", "d1", "L1", "20000", 10, "2024-02-01")

	_, err := eng.Registry.ReleaseFromDealer(ctx, "a", date("2024-03-01"))
	assert.ErrorIs(t, err, pledge.ErrOutstandingBalance)
	assert.Equal(t, pledge.StateWithDealer, state(t, eng, "a"))

	_, err = eng.Dealer.RecordPayment(ctx, girvi.DealerPaymentInput{
		ItemID: "a", Interest: pledge.ZeroMoney(), Principal: inr("15000"), Date: date("2024-03-01"),
	})
	require.NoError(t, err)
	_, err = eng.Registry.ReleaseFromDealer(ctx, "a", date("2024-03-01"))
	assert.ErrorIs(t, err, pledge.ErrOutstandingBalance)

	_, err = eng.Dealer.RecordPayment(ctx, girvi.DealerPaymentInput{
		ItemID: "a", Interest: pledge.ZeroMoney(), Principal: inr("5000"), Date: date("2024-03-02"),
	})
	require.NoError(t, err)

	_, err = eng.Registry.ReleaseFromDealer(ctx, "a", date("2024-03-01"))
	assert.ErrorIs(t, err, pledge.ErrInvalidDateRange, "return before the last dealer settlement")

	item, err := eng.Coordinator.ReturnSingle(ctx, "a", date("2024-03-05"))
	require.NoError(t, err)
	assert.Equal(t, pledge.StateInHand, item.State)
}

func TestRegistry_ReleaseFromDealer_RequiresWithDealer(t *testing.T) {
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "25000"))

	_, err := eng.Registry.ReleaseFromDealer(context.Background(), "a", date("2024-02-01"))
	assert.ErrorIs(t, err, pledge.ErrInvalidState)

	var te *pledge.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, pledge.StateInHand, te.From)
}

func TestRegistry_ClosedLotCannotBeReused(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "25000"))
	mustTransfer(t, eng, "a", "d1", "L1", "1000", 10, "2024-02-01")

	_, err := eng.Dealer.RecordPayment(ctx, girvi.DealerPaymentInput{
		ItemID: "a", Interest: pledge.ZeroMoney(), Principal: inr("1000"), Date: date("2024-02-01"),
	})
	require.NoError(t, err)
	_, err = eng.Registry.ReleaseFromDealer(ctx, "a", date("2024-02-10"))
	require.NoError(t, err)

	_, err = eng.Registry.TransferToDealer(ctx, "a", "L1", "d1", pct(10), inr("1000"), date("2024-03-01"))
	assert.ErrorIs(t, err, pledge.ErrInvalidState)

	// a fresh lot is fine, and its ledger starts clean
	mustTransfer(t, eng, "a", "d1", "L2", "1000", 10, "2024-03-01")
	out, err := eng.Dealer.OutstandingAdvance(ctx, girvi.DealerKey{ItemID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", fixed(out))
}

func TestRegistry_TransferBeforeLastReturn_Rejected(t *testing.T) {
	// GIVEN: An item that was with d1 from 2024-03-01 and came back on 2024-04-01
	// WHEN: A transfer to d2 is dated inside the d1 stint
	// THEN: InvalidDateRange, the item stays in hand and d2 accrues nothing

	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "25000"))
	mustTransfer(t, eng, "a", "d1", "L1", "1000", 10, "2024-03-01")
	_, err := eng.Dealer.RecordPayment(ctx, girvi.DealerPaymentInput{
		ItemID: "a", Interest: pledge.ZeroMoney(), Principal: inr("1000"), Date: date("2024-03-15"),
	})
	require.NoError(t, err)
	_, err = eng.Registry.ReleaseFromDealer(ctx, "a", date("2024-04-01"))
	require.NoError(t, err)

	_, err = eng.Registry.TransferToDealer(ctx, "a", "L2", "d2", pct(10), inr("1000"), date("2024-02-10"))
	assert.ErrorIs(t, err, pledge.ErrInvalidDateRange)
	assert.Equal(t, pledge.StateInHand, state(t, eng, "a"))

	// the return date itself is the earliest allowed
	mustTransfer(t, eng, "a", "d2", "L2", "1000", 10, "2024-04-01")
}

// =============================================================================
// RELEASE TO CUSTOMER
// =============================================================================

func TestRegistry_ReleaseToCustomer_SucceedsIffInHandAndSettled(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, eng *girvi.Engine)
		want  error
	}{
		{
			name:  "in hand, principal outstanding",
			setup: func(t *testing.T, eng *girvi.Engine) {},
			want:  pledge.ErrOutstandingBalance,
		},
		{
			name: "in hand, partly repaid",
			setup: func(t *testing.T, eng *girvi.Engine) {
				mustPayCustomer(t, eng, "a", "0", "999.99", "2024-02-01")
			},
			want: pledge.ErrOutstandingBalance,
		},
		{
			name: "in hand, settled",
			setup: func(t *testing.T, eng *girvi.Engine) {
				mustPayCustomer(t, eng, "a", "0", "1000", "2024-02-01")
			},
			want: nil,
		},
		{
			name: "with dealer, customer settled",
			setup: func(t *testing.T, eng *girvi.Engine) {
				mustPayCustomer(t, eng, "a", "0", "1000", "2024-02-01")
				mustTransfer(t, eng, "a", "d1", "L1", "500", 10, "2024-02-02")
			},
			want: pledge.ErrInvalidState,
		},
		{
			name: "already released",
			setup: func(t *testing.T, eng *girvi.Engine) {
				mustPayCustomer(t, eng, "a", "0", "1000", "2024-02-01")
				_, err := eng.Registry.ReleaseToCustomer(context.Background(), "a", date("2024-02-02"))
				require.NoError(t, err)
			},
			want: pledge.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine(t)
			mustCreate(t, eng, newItem("a", "1000"))
			tt.setup(t, eng)
			before := state(t, eng, "a")

			item, err := eng.Registry.ReleaseToCustomer(context.Background(), "a", date("2024-03-01"))
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, pledge.StateReleased, item.State)
				require.NotNil(t, item.ReleasedOn)
				assert.Equal(t, date("2024-03-01"), *item.ReleasedOn)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, state(t, eng, "a"), "failed release must not change state")
		})
	}
}

func TestRegistry_ReleaseToCustomer_DateOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, eng *girvi.Engine)
		on    string
	}{
		{
			name: "before the last customer payment",
			setup: func(t *testing.T, eng *girvi.Engine) {
				mustPayCustomer(t, eng, "a", "0", "1000", "2024-05-01")
			},
			on: "2024-02-01",
		},
		{
			name: "before the last dealer return",
			setup: func(t *testing.T, eng *girvi.Engine) {
				mustPayCustomer(t, eng, "a", "0", "1000", "2024-02-01")
				mustTransfer(t, eng, "a", "d1", "L1", "500", 10, "2024-02-01")
				_, err := eng.Dealer.RecordPayment(context.Background(), girvi.DealerPaymentInput{
					ItemID: "a", Interest: pledge.ZeroMoney(), Principal: inr("500"), Date: date("2024-03-01"),
				})
				require.NoError(t, err)
				_, err = eng.Registry.ReleaseFromDealer(context.Background(), "a", date("2024-04-01"))
				require.NoError(t, err)
			},
			on: "2024-03-15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newEngine(t)
			mustCreate(t, eng, newItem("a", "1000"))
			tt.setup(t, eng)

			_, err := eng.Registry.ReleaseToCustomer(context.Background(), "a", date(tt.on))
			assert.ErrorIs(t, err, pledge.ErrInvalidDateRange)
			assert.Equal(t, pledge.StateInHand, state(t, eng, "a"))
		})
	}
}

func TestRegistry_ReleasedItemTakesNoPayments(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "1000"))
	mustPayCustomer(t, eng, "a", "0", "1000", "2024-02-01")
	_, err := eng.Coordinator.ReleaseSingle(ctx, "a", date("2024-02-01"))
	require.NoError(t, err)

	_, err = eng.Customer.RecordPayment(ctx, girvi.CustomerPaymentInput{
		ItemID: "a", Interest: inr("1"), Principal: pledge.ZeroMoney(), Date: date("2024-03-01"),
	})
	assert.ErrorIs(t, err, pledge.ErrInvalidState)

	_, err = eng.Registry.TransferToDealer(ctx, "a", "L1", "d1", pct(10), inr("1"), date("2024-03-01"))
	assert.ErrorIs(t, err, pledge.ErrInvalidState)
}

// =============================================================================
// DELETE & QUERIES
// =============================================================================

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("fresh", "1000"))
	mustCreate(t, eng, newItem("paid", "1000"))
	mustCreate(t, eng, newItem("pawned", "1000"))
	mustPayCustomer(t, eng, "paid", "0", "10", "2024-02-01")
	mustTransfer(t, eng, "pawned", "d1", "L1", "500", 10, "2024-02-01")

	require.NoError(t, eng.Registry.Delete(ctx, "fresh"))
	_, err := eng.Registry.Get(ctx, "fresh")
	assert.ErrorIs(t, err, pledge.ErrItemNotFound)

	assert.ErrorIs(t, eng.Registry.Delete(ctx, "paid"), pledge.ErrReferencedEntity)
	assert.ErrorIs(t, eng.Registry.Delete(ctx, "pawned"), pledge.ErrReferencedEntity)
	assert.ErrorIs(t, eng.Registry.Delete(ctx, "fresh"), pledge.ErrItemNotFound)
}

func TestRegistry_QueriesReturnCopies(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	mustCreate(t, eng, newItem("a", "1000"))
	mustCreate(t, eng, newItem("b", "1000"))
	mustTransfer(t, eng, "b", "d1", "L1", "500", 10, "2024-02-01")

	inHand, err := eng.Registry.AllItems(ctx, pledge.ItemFilter{State: pledge.StateInHand})
	require.NoError(t, err)
	require.Len(t, inHand, 1)
	inHand[0].State = pledge.StateReleased
	assert.Equal(t, pledge.StateInHand, state(t, eng, "a"))

	lot, err := eng.Registry.ItemsInLot(ctx, "d1", "L1")
	require.NoError(t, err)
	require.Len(t, lot, 1)
	assert.Equal(t, pledge.ItemID("b"), lot[0].ID)

	_, err = eng.Registry.ItemsInLot(ctx, "d1", "L9")
	assert.ErrorIs(t, err, pledge.ErrLotNotFound)
}
