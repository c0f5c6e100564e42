/*
dealer_ledger.go - Shop -> dealer payments under simple interest

PURPOSE:
  Tracks what the shop owes a dealer for one re-pledged item. The ledger is
  keyed by (item, dealer, lot) and measured against the dealer advance, not
  the customer principal:

    outstanding = advance - Σ dealer principal portions
    accrued     = arrears + simple(outstanding, basis -> asOf)

  Only payments of the live (dealer, lot) stint count. A dealer payment
  never touches the customer ledger: the same item carries two independent
  principal balances that do not net.

KEYING:
  DealerKey with empty DealerID and Lot addresses the item's live link.
  A key naming another dealer or lot is refused with InvalidState.

SEE ALSO:
  - customer_ledger.go: the customer side
  - registry.go: ReleaseFromDealer requires this outstanding to be zero
*/
package girvi

import (
	"context"
	"fmt"

	"github.com/warp/girvi-engine/pledge"
)

const ledgerDealer = "dealer"

// DealerKey addresses one dealer stint of an item.
type DealerKey struct {
	ItemID   pledge.ItemID
	DealerID pledge.DealerID
	Lot      pledge.LotNumber
}

// DealerPaymentInput is one shop payment to a dealer against one lot member.
type DealerPaymentInput struct {
	ItemID         pledge.ItemID
	DealerID       pledge.DealerID
	Lot            pledge.LotNumber
	Interest       pledge.Money
	Principal      pledge.Money
	Date           pledge.Date
	Mode           pledge.PaymentMode
	IdempotencyKey string
}

func (in DealerPaymentInput) key() DealerKey {
	return DealerKey{ItemID: in.ItemID, DealerID: in.DealerID, Lot: in.Lot}
}

type DealerLedger struct {
	*core
}

// =============================================================================
// READS
// =============================================================================

// OutstandingAdvance returns the advance minus dealer principal repaid.
func (l *DealerLedger) OutstandingAdvance(ctx context.Context, key DealerKey) (pledge.Money, error) {
	pos, _, err := l.position(ctx, key)
	if err != nil {
		return pledge.Money{}, err
	}
	return pos.Outstanding, nil
}

// AccruedInterest returns the unrounded simple interest owed as of asOf.
func (l *DealerLedger) AccruedInterest(ctx context.Context, key DealerKey, asOf pledge.Date) (pledge.Money, error) {
	pos, _, err := l.position(ctx, key)
	if err != nil {
		return pledge.Money{}, err
	}
	return pos.AccruedAsOf(l.dateOr(asOf))
}

func (l *DealerLedger) Statement(ctx context.Context, key DealerKey, asOf pledge.Date) (pledge.Statement, error) {
	pos, _, err := l.position(ctx, key)
	if err != nil {
		return pledge.Statement{}, err
	}
	return pos.StatementAt(l.dateOr(asOf))
}

func (l *DealerLedger) position(ctx context.Context, key DealerKey) (pledge.Position, pledge.JewelryItem, error) {
	item, err := l.store.GetItem(ctx, key.ItemID)
	if err != nil {
		return pledge.Position{}, pledge.JewelryItem{}, err
	}
	if err := matchLink(item, key); err != nil {
		return pledge.Position{}, pledge.JewelryItem{}, err
	}
	pos, err := l.dealerPosition(ctx, item)
	return pos, item, err
}

// matchLink checks that item is with the dealer and lot key names.
func matchLink(item pledge.JewelryItem, key DealerKey) error {
	if item.State != pledge.StateWithDealer || item.Dealer == nil {
		return &pledge.TransitionError{ItemID: item.ID, Operation: "dealer ledger", From: item.State, Reason: "item is not with a dealer"}
	}
	if (key.DealerID != "" && key.DealerID != item.Dealer.DealerID) || (key.Lot != "" && key.Lot != item.Dealer.Lot) {
		return &pledge.TransitionError{
			ItemID: item.ID, Operation: "dealer ledger", From: item.State,
			Reason: fmt.Sprintf("item is in lot %s/%s", item.Dealer.DealerID, item.Dealer.Lot),
		}
	}
	return nil
}

// =============================================================================
// WRITES
// =============================================================================

// RecordPayment validates and appends a dealer payment.
func (l *DealerLedger) RecordPayment(ctx context.Context, in DealerPaymentInput) (pledge.DealerPayment, error) {
	var out pledge.DealerPayment
	err := l.locked(ctx, in.ItemID, func() (err error) {
		out, err = l.record(ctx, in)
		return err
	})
	l.finishPayment(ctx, ledgerDealer, in.ItemID, err)
	return out, err
}

// record assumes the item lock is held.
func (l *DealerLedger) record(ctx context.Context, in DealerPaymentInput) (pledge.DealerPayment, error) {
	pos, item, err := l.position(ctx, in.key())
	if err != nil {
		return pledge.DealerPayment{}, err
	}
	date := l.dateOr(in.Date)
	if date.Before(pos.Basis) {
		return pledge.DealerPayment{}, &pledge.DateError{
			Value:  date.String(),
			Reason: fmt.Sprintf("before dealer accrual basis %s", pos.Basis),
		}
	}
	if _, err := pos.Apply(in.Interest, in.Principal, date); err != nil {
		return pledge.DealerPayment{}, err
	}

	p := pledge.DealerPayment{
		ID:        pledge.PaymentID(l.newID()),
		ItemID:    item.ID,
		DealerID:  item.Dealer.DealerID,
		Lot:       item.Dealer.Lot,
		Interest:  in.Interest,
		Principal: in.Principal,
		Date:      date,
		Mode:      in.Mode,
		CreatedAt: l.now().UTC(),
	}
	rec := p.Record()
	rec.IdempotencyKey = in.IdempotencyKey
	if err := l.store.AppendPayment(ctx, rec); err != nil {
		return pledge.DealerPayment{}, err
	}
	return p, nil
}
