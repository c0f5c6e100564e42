/*
customer_ledger.go - Customer -> shop payments under compound interest

PURPOSE:
  Tracks what the customer owes the shop on one item: the outstanding
  principal and the compound interest accrued since the last settlement.
  Balances are never stored; they are replayed from the payment log.

    outstanding = principal - Σ principal portions
    accrued     = arrears + compound(outstanding, basis -> asOf)

  The basis is the acquisition date until the first payment, then the date
  of the latest payment. Interest left unpaid at a settlement is carried as
  arrears and does not compound.

PAYMENT RULES:
  - portions >= 0, at least one > 0, whole paise
  - date on or after the basis
  - interest <= accrued (rounded to paise), else ExceedsAccrued
  - principal <= outstanding, else ExceedsOutstanding
  - released items take no payments
  Payments while the item is with a dealer are accepted: the customer still
  owes the shop.

SEE ALSO:
  - pledge/ledger.go: Position and Replay
  - dealer_ledger.go: the independent dealer side
*/
package girvi

import (
	"context"
	"fmt"

	"github.com/warp/girvi-engine/pledge"
)

const ledgerCustomer = "customer"

// CustomerPaymentInput is one customer payment against one item.
// Date defaults to today.
type CustomerPaymentInput struct {
	ItemID         pledge.ItemID
	Interest       pledge.Money
	Principal      pledge.Money
	Date           pledge.Date
	Mode           pledge.PaymentMode
	IdempotencyKey string
}

type CustomerLedger struct {
	*core
}

// =============================================================================
// READS
// =============================================================================

// OutstandingPrincipal returns principal minus all principal repaid.
func (l *CustomerLedger) OutstandingPrincipal(ctx context.Context, itemID pledge.ItemID) (pledge.Money, error) {
	pos, err := l.position(ctx, itemID)
	if err != nil {
		return pledge.Money{}, err
	}
	return pos.Outstanding, nil
}

// AccruedInterest returns the unrounded interest owed as of asOf.
func (l *CustomerLedger) AccruedInterest(ctx context.Context, itemID pledge.ItemID, asOf pledge.Date) (pledge.Money, error) {
	pos, err := l.position(ctx, itemID)
	if err != nil {
		return pledge.Money{}, err
	}
	return pos.AccruedAsOf(l.dateOr(asOf))
}

// Statement returns the figures a payment form pre-fills.
func (l *CustomerLedger) Statement(ctx context.Context, itemID pledge.ItemID, asOf pledge.Date) (pledge.Statement, error) {
	pos, err := l.position(ctx, itemID)
	if err != nil {
		return pledge.Statement{}, err
	}
	return pos.StatementAt(l.dateOr(asOf))
}

func (l *CustomerLedger) position(ctx context.Context, itemID pledge.ItemID) (pledge.Position, error) {
	item, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		return pledge.Position{}, err
	}
	return l.customerPosition(ctx, item)
}

// =============================================================================
// WRITES
// =============================================================================

// RecordPayment validates and appends a customer payment.
func (l *CustomerLedger) RecordPayment(ctx context.Context, in CustomerPaymentInput) (pledge.CustomerPayment, error) {
	var out pledge.CustomerPayment
	err := l.locked(ctx, in.ItemID, func() (err error) {
		out, err = l.record(ctx, in)
		return err
	})
	l.finishPayment(ctx, ledgerCustomer, in.ItemID, err)
	return out, err
}

// record assumes the item lock is held.
func (l *CustomerLedger) record(ctx context.Context, in CustomerPaymentInput) (pledge.CustomerPayment, error) {
	item, err := l.store.GetItem(ctx, in.ItemID)
	if err != nil {
		return pledge.CustomerPayment{}, err
	}
	if item.State == pledge.StateReleased {
		return pledge.CustomerPayment{}, &pledge.TransitionError{
			ItemID: item.ID, Operation: "customer payment", From: item.State,
		}
	}

	pos, err := l.customerPosition(ctx, item)
	if err != nil {
		return pledge.CustomerPayment{}, err
	}
	date := l.dateOr(in.Date)
	if date.Before(pos.Basis) {
		return pledge.CustomerPayment{}, &pledge.DateError{
			Value:  date.String(),
			Reason: fmt.Sprintf("before accrual basis %s", pos.Basis),
		}
	}
	if _, err := pos.Apply(in.Interest, in.Principal, date); err != nil {
		return pledge.CustomerPayment{}, err
	}

	p := pledge.CustomerPayment{
		ID:        pledge.PaymentID(l.newID()),
		ItemID:    item.ID,
		Interest:  in.Interest,
		Principal: in.Principal,
		Date:      date,
		Mode:      in.Mode,
		CreatedAt: l.now().UTC(),
	}
	rec := p.Record()
	rec.IdempotencyKey = in.IdempotencyKey
	if err := l.store.AppendPayment(ctx, rec); err != nil {
		return pledge.CustomerPayment{}, err
	}
	return p, nil
}

func (c *core) finishPayment(ctx context.Context, ledger string, id pledge.ItemID, err error) {
	c.metrics.Payment(ledger, err)
	ctx = c.log.WithItemID(ctx, string(id))
	if err != nil {
		c.log.Warn(ctx, ledger+" payment rejected", err)
		return
	}
	c.log.InfoFields(ctx, "payment recorded", map[string]any{"ledger": ledger})
}
