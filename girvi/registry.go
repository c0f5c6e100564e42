/*
registry.go - Collateral identity and custody state machine

PURPOSE:
  Owns each jewelry item's identity, its immutable loan terms and its
  custody state. All transitions go through here:

    ┌─────────┐  TransferToDealer   ┌────────────┐
    │ InHand  │ ──────────────────▶ │ WithDealer │
    │         │ ◀────────────────── │            │
    └─────────┘  ReleaseFromDealer  └────────────┘
         │
         │ ReleaseToCustomer
         ▼
    ┌──────────┐
    │ Released │ (terminal)
    └──────────┘

  ReleaseFromDealer brings the jewelry back to the shop; ReleaseToCustomer
  hands it back to the customer. They are different transitions and a
  customer release of an item still with a dealer is refused.

PRECONDITIONS:
  TransferToDealer:  InHand, 0 < advance <= principal, 0 < rate <= 100,
                     date on or after acquisition, (dealer, lot) not already
                     closed for this item
  ReleaseFromDealer: WithDealer, dealer outstanding == 0, or a same-day
                     return with no dealer payments (the transfer is unwound)
  ReleaseToCustomer: InHand, customer outstanding == 0

AUDIT:
  ReleaseFromDealer clears the live dealer link and appends a DealerClosure
  in the same store transaction. Dealer payments stay in the payment log.

SEE ALSO:
  - customer_ledger.go, dealer_ledger.go: the balances checked on release
  - coordinator.go: single and batch wrappers
*/
package girvi

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/pledge"
)

const (
	opCreate            = "create"
	opTransfer          = "transfer_to_dealer"
	opReleaseFromDealer = "release_from_dealer"
	opReleaseToCustomer = "release_to_customer"
	opDelete            = "delete"
)

var maxRate = decimal.NewFromInt(100)

// NewItem is the input of Registry.Create. ID is generated when empty.
// Category, Purity, WeightGrams and Description are master data carried
// as given.
type NewItem struct {
	ID          pledge.ItemID
	CustomerID  pledge.CustomerID
	AgentID     pledge.AgentID
	Category    string
	Purity      string
	WeightGrams decimal.Decimal
	Description string
	Principal   pledge.Money
	AnnualRate  decimal.Decimal
	Compounding pledge.Compounding
	AcquiredOn  pledge.Date
}

type Registry struct {
	*core
}

// =============================================================================
// CREATION & QUERIES
// =============================================================================

// Create registers a new item in state InHand.
func (r *Registry) Create(ctx context.Context, in NewItem) (pledge.JewelryItem, error) {
	item, err := r.buildItem(in)
	if err == nil {
		err = r.store.CreateItem(ctx, item)
	}
	r.metrics.Transition(opCreate, err)
	if err != nil {
		r.log.Warn(ctx, "item creation rejected", err)
		return pledge.JewelryItem{}, err
	}
	r.log.InfoFields(ctx, "item created", map[string]any{
		"item_id":   item.ID,
		"principal": item.Principal.Decimal(),
	})
	return item, nil
}

func (r *Registry) buildItem(in NewItem) (pledge.JewelryItem, error) {
	if err := requireID("customer id", string(in.CustomerID)); err != nil {
		return pledge.JewelryItem{}, err
	}
	if err := requireID("agent id", string(in.AgentID)); err != nil {
		return pledge.JewelryItem{}, err
	}
	if !in.Principal.IsPositive() {
		return pledge.JewelryItem{}, &pledge.AmountError{Field: "principal", Value: in.Principal.Decimal(), Reason: "must be positive"}
	}
	if err := validateRate("rate", in.AnnualRate); err != nil {
		return pledge.JewelryItem{}, err
	}
	if !in.Compounding.IsValid() {
		return pledge.JewelryItem{}, &pledge.AmountError{Field: "compounding", Value: string(in.Compounding), Reason: "unknown frequency"}
	}

	id := in.ID
	if id == "" {
		id = pledge.ItemID(r.newID())
	}
	now := r.now().UTC()
	return pledge.JewelryItem{
		ID:          id,
		CustomerID:  in.CustomerID,
		AgentID:     in.AgentID,
		Category:    in.Category,
		Purity:      in.Purity,
		WeightGrams: in.WeightGrams,
		Description: in.Description,
		Principal:   in.Principal.RoundPaise(),
		AnnualRate:  in.AnnualRate,
		Compounding: in.Compounding,
		AcquiredOn:  r.dateOr(in.AcquiredOn),
		State:       pledge.StateInHand,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *Registry) Get(ctx context.Context, id pledge.ItemID) (pledge.JewelryItem, error) {
	return r.store.GetItem(ctx, id)
}

// AllItems returns copies of the items matching filter.
func (r *Registry) AllItems(ctx context.Context, filter pledge.ItemFilter) ([]pledge.JewelryItem, error) {
	return r.store.ListItems(ctx, filter)
}

// ItemsInLot returns the members of a lot still with the dealer.
// Returns ErrLotNotFound when the lot has no such member.
func (r *Registry) ItemsInLot(ctx context.Context, dealer pledge.DealerID, lot pledge.LotNumber) ([]pledge.JewelryItem, error) {
	if dealer == "" || lot == "" {
		return nil, fmt.Errorf("%w: dealer and lot are required", pledge.ErrLotNotFound)
	}
	items, err := r.store.ListItems(ctx, pledge.ItemFilter{State: pledge.StateWithDealer, DealerID: dealer, Lot: lot})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", pledge.ErrLotNotFound, dealer, lot)
	}
	return items, nil
}

// Lots derives the open lots from the items currently with a dealer.
func (r *Registry) Lots(ctx context.Context) ([]pledge.Lot, error) {
	items, err := r.store.ListItems(ctx, pledge.ItemFilter{State: pledge.StateWithDealer})
	if err != nil {
		return nil, err
	}
	return pledge.GroupLots(items), nil
}

// Closures returns the finished dealer stints of an item, oldest first.
func (r *Registry) Closures(ctx context.Context, id pledge.ItemID) ([]pledge.DealerClosure, error) {
	if _, err := r.store.GetItem(ctx, id); err != nil {
		return nil, err
	}
	return r.store.Closures(ctx, id)
}

// Delete removes an item that never took part in any ledger.
func (r *Registry) Delete(ctx context.Context, id pledge.ItemID) error {
	err := r.locked(ctx, id, func() error { return r.delete(ctx, id) })
	r.metrics.Transition(opDelete, err)
	if err != nil {
		r.log.Warn(ctx, "item deletion rejected", err)
		return err
	}
	r.log.InfoFields(ctx, "item deleted", map[string]any{"item_id": id})
	return nil
}

func (r *Registry) delete(ctx context.Context, id pledge.ItemID) error {
	item, err := r.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.State == pledge.StateWithDealer {
		return fmt.Errorf("%w: item %s is with dealer %s", pledge.ErrReferencedEntity, id, item.Dealer.DealerID)
	}
	recs, err := r.store.Payments(ctx, id)
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		return fmt.Errorf("%w: item %s has %d payments", pledge.ErrReferencedEntity, id, len(recs))
	}
	closures, err := r.store.Closures(ctx, id)
	if err != nil {
		return err
	}
	if len(closures) > 0 {
		return fmt.Errorf("%w: item %s has %d dealer closures", pledge.ErrReferencedEntity, id, len(closures))
	}
	return r.store.DeleteItem(ctx, id)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// TransferToDealer re-pledges an InHand item into a dealer lot.
func (r *Registry) TransferToDealer(
	ctx context.Context,
	itemID pledge.ItemID,
	lot pledge.LotNumber,
	dealerID pledge.DealerID,
	dealerRate decimal.Decimal,
	advance pledge.Money,
	date pledge.Date,
) (pledge.JewelryItem, error) {
	link := pledge.DealerLink{
		DealerID:      dealerID,
		Lot:           lot,
		Advance:       advance,
		Rate:          dealerRate,
		TransferredOn: r.dateOr(date),
	}

	var out pledge.JewelryItem
	err := r.locked(ctx, itemID, func() (err error) {
		out, err = r.transfer(ctx, itemID, link)
		return err
	})
	r.finishTransition(ctx, opTransfer, itemID, err)
	return out, err
}

// transfer assumes the item lock is held.
func (r *Registry) transfer(ctx context.Context, itemID pledge.ItemID, link pledge.DealerLink) (pledge.JewelryItem, error) {
	if err := requireID("dealer id", string(link.DealerID)); err != nil {
		return pledge.JewelryItem{}, err
	}
	if err := requireID("lot", string(link.Lot)); err != nil {
		return pledge.JewelryItem{}, err
	}
	if err := validateRate("dealer rate", link.Rate); err != nil {
		return pledge.JewelryItem{}, err
	}

	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	if item.State != pledge.StateInHand {
		return pledge.JewelryItem{}, &pledge.TransitionError{ItemID: itemID, Operation: opTransfer, From: item.State}
	}
	if err := validateAdvance(link.Advance, item.Principal); err != nil {
		return pledge.JewelryItem{}, err
	}
	if link.TransferredOn.Before(item.AcquiredOn) {
		return pledge.JewelryItem{}, &pledge.DateError{
			Value:  link.TransferredOn.String(),
			Reason: fmt.Sprintf("transfer before acquisition on %s", item.AcquiredOn),
		}
	}

	closures, err := r.store.Closures(ctx, itemID)
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	for _, c := range closures {
		if c.Link.DealerID == link.DealerID && c.Link.Lot == link.Lot {
			return pledge.JewelryItem{}, &pledge.TransitionError{
				ItemID: itemID, Operation: opTransfer, From: item.State,
				Reason: fmt.Sprintf("lot %s/%s was already closed for this item", link.DealerID, link.Lot),
			}
		}
	}
	if last, ok := lastReturn(closures); ok && link.TransferredOn.Before(last) {
		return pledge.JewelryItem{}, &pledge.DateError{
			Value:  link.TransferredOn.String(),
			Reason: fmt.Sprintf("transfer before the last dealer return on %s", last),
		}
	}

	item.State = pledge.StateWithDealer
	item.Dealer = &link
	item.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateCustody(ctx, item); err != nil {
		return pledge.JewelryItem{}, err
	}
	return item, nil
}

// ReleaseFromDealer returns a settled item from its dealer to the shop.
func (r *Registry) ReleaseFromDealer(ctx context.Context, itemID pledge.ItemID, date pledge.Date) (pledge.JewelryItem, error) {
	var out pledge.JewelryItem
	err := r.locked(ctx, itemID, func() (err error) {
		out, err = r.returnFromDealer(ctx, itemID, r.dateOr(date))
		return err
	})
	r.finishTransition(ctx, opReleaseFromDealer, itemID, err)
	return out, err
}

// returnFromDealer assumes the item lock is held.
func (r *Registry) returnFromDealer(ctx context.Context, itemID pledge.ItemID, date pledge.Date) (pledge.JewelryItem, error) {
	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	if item.State != pledge.StateWithDealer || item.Dealer == nil {
		return pledge.JewelryItem{}, &pledge.TransitionError{ItemID: itemID, Operation: opReleaseFromDealer, From: item.State}
	}

	pos, err := r.dealerPosition(ctx, item)
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	unwind := pos.Payments == 0 && date.Equal(item.Dealer.TransferredOn)
	if !pos.IsSettled() && !unwind {
		return pledge.JewelryItem{}, &pledge.LimitError{Kind: pledge.ErrOutstandingBalance, ItemID: itemID, Limit: pos.Outstanding}
	}
	if date.Before(pos.Basis) {
		return pledge.JewelryItem{}, &pledge.DateError{
			Value:  date.String(),
			Reason: fmt.Sprintf("return before last dealer settlement on %s", pos.Basis),
		}
	}

	now := r.now().UTC()
	closure := pledge.DealerClosure{
		ID:         r.newID(),
		ItemID:     itemID,
		Link:       *item.Dealer,
		ReturnedOn: date,
		ClosedAt:   now,
	}
	item.State = pledge.StateInHand
	item.Dealer = nil
	item.UpdatedAt = now

	err = r.store.WithTx(ctx, func(tx pledge.Store) error {
		if err := tx.UpdateCustody(ctx, item); err != nil {
			return err
		}
		return tx.AppendClosure(ctx, closure)
	})
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	return item, nil
}

// ReleaseToCustomer hands a fully repaid InHand item back to its owner.
func (r *Registry) ReleaseToCustomer(ctx context.Context, itemID pledge.ItemID, date pledge.Date) (pledge.JewelryItem, error) {
	var out pledge.JewelryItem
	err := r.locked(ctx, itemID, func() (err error) {
		out, err = r.releaseToCustomer(ctx, itemID, r.dateOr(date))
		return err
	})
	r.finishTransition(ctx, opReleaseToCustomer, itemID, err)
	return out, err
}

// releaseToCustomer assumes the item lock is held.
func (r *Registry) releaseToCustomer(ctx context.Context, itemID pledge.ItemID, date pledge.Date) (pledge.JewelryItem, error) {
	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	switch item.State {
	case pledge.StateWithDealer:
		return pledge.JewelryItem{}, &pledge.TransitionError{
			ItemID: itemID, Operation: opReleaseToCustomer, From: item.State,
			Reason: "return it from the dealer first",
		}
	case pledge.StateReleased:
		return pledge.JewelryItem{}, &pledge.TransitionError{ItemID: itemID, Operation: opReleaseToCustomer, From: item.State}
	}

	pos, err := r.customerPosition(ctx, item)
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	if !pos.IsSettled() {
		return pledge.JewelryItem{}, &pledge.LimitError{Kind: pledge.ErrOutstandingBalance, ItemID: itemID, Limit: pos.Outstanding}
	}
	if date.Before(pos.Basis) {
		return pledge.JewelryItem{}, &pledge.DateError{
			Value:  date.String(),
			Reason: fmt.Sprintf("release before last customer settlement on %s", pos.Basis),
		}
	}

	closures, err := r.store.Closures(ctx, itemID)
	if err != nil {
		return pledge.JewelryItem{}, err
	}
	if last, ok := lastReturn(closures); ok && date.Before(last) {
		return pledge.JewelryItem{}, &pledge.DateError{
			Value:  date.String(),
			Reason: fmt.Sprintf("release before the last dealer return on %s", last),
		}
	}

	item.State = pledge.StateReleased
	item.ReleasedOn = &date
	item.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateCustody(ctx, item); err != nil {
		return pledge.JewelryItem{}, err
	}
	return item, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// locked runs fn while holding the lock of id.
func (c *core) locked(ctx context.Context, id pledge.ItemID, fn func() error) error {
	if err := requireID("item id", string(id)); err != nil {
		return err
	}
	unlock, err := c.lockItems(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (r *Registry) finishTransition(ctx context.Context, op string, id pledge.ItemID, err error) {
	r.metrics.Transition(op, err)
	ctx = r.log.WithItemID(ctx, string(id))
	if err != nil {
		r.log.Warn(ctx, op+" rejected", err)
		return
	}
	r.log.InfoFields(ctx, "custody changed", map[string]any{"operation": op})
}

// lastReturn is the latest ReturnedOn among closures.
func lastReturn(closures []pledge.DealerClosure) (pledge.Date, bool) {
	var last pledge.Date
	for _, c := range closures {
		if c.ReturnedOn.After(last) {
			last = c.ReturnedOn
		}
	}
	return last, !last.IsZero()
}

func validateRate(field string, rate decimal.Decimal) error {
	if !rate.IsPositive() || rate.GreaterThan(maxRate) {
		return &pledge.AmountError{Field: field, Value: rate.String(), Reason: "must be in (0, 100]"}
	}
	return nil
}

func validateAdvance(advance, principal pledge.Money) error {
	switch {
	case !advance.IsPositive():
		return &pledge.AmountError{Field: "advance", Value: advance.Decimal(), Reason: "must be positive"}
	case advance.HasSubPaise():
		return &pledge.AmountError{Field: "advance", Value: advance.Decimal(), Reason: "finer than one paisa"}
	case advance.GreaterThan(principal):
		return &pledge.AmountError{Field: "advance", Value: advance.Decimal(), Reason: "exceeds item principal " + principal.Decimal()}
	}
	return nil
}
