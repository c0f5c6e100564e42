/*
coordinator.go - Single and batch orchestration of transfers, releases and payments

PURPOSE:
  The entry points a forms layer calls. Single operations are thin wrappers
  over the registry. Batch operations run one item at a time under that
  item's lock and never abort on a per-item failure: every item gets a line
  in the BatchReport and partial success is the normal outcome. Only
  structural problems (unknown lot, malformed shared input, an amount that
  cannot be allocated) fail the whole call.

BATCHES:
  - Items are processed concurrently, at most Engine parallelism at a time
  - The report keeps the input order
  - An id repeated in one batch is processed once; the repeat is InvalidState

LOT PAYMENT ALLOCATION:
  Members are ordered oldest acquisition first, then transfer date, then id.

    interest   fills each member's accrued dealer interest in order
    principal  fills each member's outstanding advance in order
    split      interest waterfall over the whole lot, then the principal
               waterfall with what is left

  An amount above the total due for the chosen type is refused before any
  payment is written (ExceedsAccrued for interest, ExceedsOutstanding
  otherwise). Amounts are never truncated.

  Lot operations lock every member (sorted by id) for the whole call, so
  the plan and the writes see the same balances.

SEE ALSO:
  - registry.go: transitions
  - customer_ledger.go, dealer_ledger.go: payment validation
*/
package girvi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/girvi-engine/pledge"
)

const (
	opTransferLot         = "transfer_lot"
	opBulkInterest        = "bulk_interest_payment"
	opBulkRelease         = "bulk_release"
	opBulkDealerPayment   = "bulk_dealer_payment"
	opBulkDealerReturn    = "bulk_dealer_return"
	duplicateInBatchError = "appears more than once in the batch"
)

type Coordinator struct {
	*core

	registry *Registry
	customer *CustomerLedger
	dealer   *DealerLedger
}

// =============================================================================
// SINGLE OPERATIONS
// =============================================================================

type TransferRequest struct {
	ItemID   pledge.ItemID
	DealerID pledge.DealerID
	Lot      pledge.LotNumber
	Rate     decimal.Decimal
	Advance  pledge.Money
	Date     pledge.Date
}

func (c *Coordinator) TransferSingle(ctx context.Context, req TransferRequest) (pledge.JewelryItem, error) {
	return c.registry.TransferToDealer(ctx, req.ItemID, req.Lot, req.DealerID, req.Rate, req.Advance, req.Date)
}

// ReleaseSingle hands an item back to the customer.
func (c *Coordinator) ReleaseSingle(ctx context.Context, itemID pledge.ItemID, date pledge.Date) (pledge.JewelryItem, error) {
	return c.registry.ReleaseToCustomer(ctx, itemID, date)
}

// ReturnSingle brings an item back from its dealer.
func (c *Coordinator) ReturnSingle(ctx context.Context, itemID pledge.ItemID, date pledge.Date) (pledge.JewelryItem, error) {
	return c.registry.ReleaseFromDealer(ctx, itemID, date)
}

// =============================================================================
// BATCH REPORT
// =============================================================================

// ItemResult is the outcome of one item in a batch. Interest and Principal
// are the amounts paid, when the operation pays anything.
type ItemResult struct {
	ItemID    pledge.ItemID
	OK        bool
	Kind      pledge.ErrorKind
	Error     string
	Interest  pledge.Money
	Principal pledge.Money
}

type BatchReport struct {
	Operation string
	Results   []ItemResult
	Succeeded int
	Failed    int
}

// Failures returns the rejected items in input order.
func (r BatchReport) Failures() []ItemResult {
	var out []ItemResult
	for _, res := range r.Results {
		if !res.OK {
			out = append(out, res)
		}
	}
	return out
}

// paid is what one batch item applied. It is reported even when the item
// fails after paying.
type paid struct {
	interest  pledge.Money
	principal pledge.Money
}

func nothingPaid() paid {
	return paid{interest: pledge.ZeroMoney(), principal: pledge.ZeroMoney()}
}

// runBatch applies fn to every distinct id with bounded parallelism.
// fn receives the index of the id in ids.
func (c *Coordinator) runBatch(
	ctx context.Context,
	op string,
	ids []pledge.ItemID,
	fn func(ctx context.Context, i int) (paid, error),
) BatchReport {
	start := time.Now()
	results := make([]ItemResult, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(c.parallelism)

	seen := make(map[pledge.ItemID]bool, len(ids))
	for i, id := range ids {
		results[i] = ItemResult{ItemID: id, Interest: pledge.ZeroMoney(), Principal: pledge.ZeroMoney()}
		if id != "" && seen[id] {
			errs[i] = fmt.Errorf("%w: item %s %s", pledge.ErrInvalidState, id, duplicateInBatchError)
			continue
		}
		seen[id] = true

		g.Go(func() error {
			itemCtx := c.log.WithItemID(ctx, string(id))
			p, err := fn(itemCtx, i)
			errs[i] = err
			if !p.interest.IsZero() || !p.principal.IsZero() {
				results[i].Interest = p.interest
				results[i].Principal = p.principal
			}
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Operation: op, Results: results}
	for i := range results {
		if err := errs[i]; err != nil {
			kind := pledge.KindOf(err)
			results[i].Kind = kind
			results[i].Error = err.Error()
			report.Failed++
			c.metrics.BatchItem(op, string(kind))
			c.log.Warn(c.log.WithItemID(ctx, string(results[i].ItemID)), op+" item rejected", err)
			continue
		}
		results[i].OK = true
		report.Succeeded++
		c.metrics.BatchItem(op, "")
	}

	c.metrics.ObserveBatch(op, time.Since(start))
	c.log.InfoFields(ctx, "batch finished", map[string]any{
		"operation": op,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	})
	return report
}

func requireItems(ids []pledge.ItemID) error {
	if len(ids) == 0 {
		return &pledge.FieldError{Field: "item ids", Reason: "at least one is required"}
	}
	return nil
}

// =============================================================================
// CUSTOMER-SIDE BATCHES
// =============================================================================

// LotMember is one item of a lot transfer with its own advance.
type LotMember struct {
	ItemID  pledge.ItemID
	Advance pledge.Money
}

// LotTransfer moves several items into one lot with a shared dealer, rate
// and date.
type LotTransfer struct {
	DealerID pledge.DealerID
	Lot      pledge.LotNumber
	Rate     decimal.Decimal
	Date     pledge.Date
	Items    []LotMember
}

func (c *Coordinator) TransferLot(ctx context.Context, in LotTransfer) (BatchReport, error) {
	if err := requireID("dealer id", string(in.DealerID)); err != nil {
		return BatchReport{}, err
	}
	if err := requireID("lot", string(in.Lot)); err != nil {
		return BatchReport{}, err
	}
	if err := validateRate("dealer rate", in.Rate); err != nil {
		return BatchReport{}, err
	}
	ids := make([]pledge.ItemID, len(in.Items))
	for i, m := range in.Items {
		ids[i] = m.ItemID
	}
	if err := requireItems(ids); err != nil {
		return BatchReport{}, err
	}
	date := c.dateOr(in.Date)

	return c.runBatch(ctx, opTransferLot, ids, func(ctx context.Context, i int) (paid, error) {
		m := in.Items[i]
		if _, err := c.registry.TransferToDealer(ctx, m.ItemID, in.Lot, in.DealerID, in.Rate, m.Advance, date); err != nil {
			return paid{}, err
		}
		return nothingPaid(), nil
	}), nil
}

// BulkInterestPayment records amount as a customer interest payment on
// every item. An amount of zero pays each item's full accrued interest,
// rounded to paise.
func (c *Coordinator) BulkInterestPayment(
	ctx context.Context,
	itemIDs []pledge.ItemID,
	amount pledge.Money,
	date pledge.Date,
	mode pledge.PaymentMode,
) (BatchReport, error) {
	if err := requireItems(itemIDs); err != nil {
		return BatchReport{}, err
	}
	if amount.IsNegative() || amount.HasSubPaise() {
		return BatchReport{}, &pledge.AmountError{Field: "amount", Value: amount.Decimal(), Reason: "must be a non-negative whole number of paise"}
	}
	date = c.dateOr(date)

	return c.runBatch(ctx, opBulkInterest, itemIDs, func(ctx context.Context, i int) (paid, error) {
		id := itemIDs[i]
		var p pledge.CustomerPayment
		err := c.locked(ctx, id, func() error {
			interest := amount
			if interest.IsZero() {
				due, err := c.accruedDue(ctx, id, date)
				if err != nil {
					return err
				}
				if due.IsZero() {
					return &pledge.AmountError{Field: "interest", Value: "0", Reason: "nothing has accrued"}
				}
				interest = due
			}
			var err error
			p, err = c.customer.record(ctx, CustomerPaymentInput{
				ItemID:    id,
				Interest:  interest,
				Principal: pledge.ZeroMoney(),
				Date:      date,
				Mode:      mode,
			})
			return err
		})
		c.finishPayment(ctx, ledgerCustomer, id, err)
		if err != nil {
			return paid{}, err
		}
		return paid{interest: p.Interest, principal: p.Principal}, nil
	}), nil
}

// accruedDue returns the customer interest due at date, rounded to paise.
func (c *Coordinator) accruedDue(ctx context.Context, id pledge.ItemID, date pledge.Date) (pledge.Money, error) {
	item, err := c.store.GetItem(ctx, id)
	if err != nil {
		return pledge.Money{}, err
	}
	pos, err := c.customerPosition(ctx, item)
	if err != nil {
		return pledge.Money{}, err
	}
	accrued, err := pos.AccruedAsOf(date)
	if err != nil {
		return pledge.Money{}, err
	}
	return accrued.RoundPaise(), nil
}

// BulkRelease releases every item to its customer. Items still owing are
// reported OutstandingBalance and left unchanged.
func (c *Coordinator) BulkRelease(ctx context.Context, itemIDs []pledge.ItemID, date pledge.Date) (BatchReport, error) {
	if err := requireItems(itemIDs); err != nil {
		return BatchReport{}, err
	}
	date = c.dateOr(date)
	return c.runBatch(ctx, opBulkRelease, itemIDs, func(ctx context.Context, i int) (paid, error) {
		if _, err := c.registry.ReleaseToCustomer(ctx, itemIDs[i], date); err != nil {
			return paid{}, err
		}
		return nothingPaid(), nil
	}), nil
}

// =============================================================================
// LOT PAYMENTS
// =============================================================================

type AllocationType string

const (
	AllocateInterest  AllocationType = "interest"
	AllocatePrincipal AllocationType = "principal"
	AllocateSplit     AllocationType = "split"
)

// ParseAllocationType accepts the three types; an empty string is split.
func ParseAllocationType(s string) (AllocationType, error) {
	switch t := AllocationType(s); t {
	case "":
		return AllocateSplit, nil
	case AllocateInterest, AllocatePrincipal, AllocateSplit:
		return t, nil
	}
	return "", &pledge.FieldError{Field: "allocation type", Reason: fmt.Sprintf("unknown type %q", s)}
}

// LotPayment is one shop payment to a dealer spread over a lot.
type LotPayment struct {
	DealerID pledge.DealerID
	Lot      pledge.LotNumber
	Amount   pledge.Money
	Type     AllocationType
	Date     pledge.Date
	Mode     pledge.PaymentMode
}

// allocation is the share of a lot payment assigned to one member.
type allocation struct {
	item      pledge.JewelryItem
	interest  pledge.Money
	principal pledge.Money
}

func (a allocation) empty() bool {
	return a.interest.IsZero() && a.principal.IsZero()
}

// BulkDealerPayment spreads in.Amount over the lot members. The report
// lists the members that received a share.
func (c *Coordinator) BulkDealerPayment(ctx context.Context, in LotPayment) (BatchReport, error) {
	if !in.Amount.IsPositive() {
		return BatchReport{}, &pledge.AmountError{Field: "amount", Value: in.Amount.Decimal(), Reason: "must be positive"}
	}

	var report BatchReport
	err := c.withLot(ctx, in, func(ctx context.Context, plan []allocation) error {
		var shares []allocation
		for _, a := range plan {
			if !a.empty() {
				shares = append(shares, a)
			}
		}
		report = c.runBatch(ctx, opBulkDealerPayment, allocationIDs(shares), func(ctx context.Context, i int) (paid, error) {
			return c.payShare(ctx, shares[i], in)
		})
		return nil
	})
	return report, err
}

// BulkDealerReturn applies in.Amount like BulkDealerPayment (zero is
// allowed) and then returns every member whose dealer outstanding is zero.
// Members still owing are reported OutstandingBalance.
func (c *Coordinator) BulkDealerReturn(ctx context.Context, in LotPayment) (BatchReport, error) {
	var report BatchReport
	err := c.withLot(ctx, in, func(ctx context.Context, plan []allocation) error {
		report = c.runBatch(ctx, opBulkDealerReturn, allocationIDs(plan), func(ctx context.Context, i int) (paid, error) {
			a := plan[i]
			p := nothingPaid()
			if !a.empty() {
				var err error
				if p, err = c.payShare(ctx, a, in); err != nil {
					return paid{}, err
				}
			}
			_, err := c.registry.returnFromDealer(ctx, a.item.ID, c.dateOr(in.Date))
			c.registry.finishTransition(ctx, opReleaseFromDealer, a.item.ID, err)
			return p, err
		})
		return nil
	})
	return report, err
}

// withLot validates in, locks every member of the lot and runs fn with the
// allocation plan. Members are re-read under the locks.
func (c *Coordinator) withLot(ctx context.Context, in LotPayment, fn func(context.Context, []allocation) error) error {
	typ, err := ParseAllocationType(string(in.Type))
	if err != nil {
		return err
	}
	if in.Amount.IsNegative() || in.Amount.HasSubPaise() {
		return &pledge.AmountError{Field: "amount", Value: in.Amount.Decimal(), Reason: "must be a non-negative whole number of paise"}
	}

	members, err := c.registry.ItemsInLot(ctx, in.DealerID, in.Lot)
	if err != nil {
		return err
	}
	ids := make([]pledge.ItemID, len(members))
	locked := make(map[pledge.ItemID]bool, len(members))
	for i, m := range members {
		ids[i] = m.ID
		locked[m.ID] = true
	}
	unlock, err := c.lockItems(ctx, ids...)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := c.registry.ItemsInLot(ctx, in.DealerID, in.Lot)
	if err != nil {
		return err
	}
	members = members[:0]
	for _, m := range current {
		if locked[m.ID] {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		return fmt.Errorf("%w: %s/%s", pledge.ErrLotNotFound, in.DealerID, in.Lot)
	}

	plan, err := c.allocate(ctx, members, in.Amount, typ, c.dateOr(in.Date))
	if err != nil {
		c.log.Warn(ctx, "lot payment rejected", err)
		return err
	}
	return fn(ctx, plan)
}

// allocate splits amount over members by the waterfall of typ.
func (c *Coordinator) allocate(
	ctx context.Context,
	members []pledge.JewelryItem,
	amount pledge.Money,
	typ AllocationType,
	date pledge.Date,
) ([]allocation, error) {
	sortLotMembers(members)

	plan := make([]allocation, len(members))
	interestDue := make([]pledge.Money, len(members))
	principalDue := make([]pledge.Money, len(members))
	totalInterest, totalPrincipal := pledge.ZeroMoney(), pledge.ZeroMoney()
	for i, m := range members {
		pos, err := c.dealerPosition(ctx, m)
		if err != nil {
			return nil, err
		}
		accrued, err := pos.AccruedAsOf(date)
		if err != nil {
			return nil, err
		}
		interestDue[i] = accrued.RoundPaise()
		principalDue[i] = pos.Outstanding
		totalInterest = totalInterest.Add(interestDue[i])
		totalPrincipal = totalPrincipal.Add(principalDue[i])
		plan[i] = allocation{item: m, interest: pledge.ZeroMoney(), principal: pledge.ZeroMoney()}
	}

	lot := members[0].Dealer
	switch typ {
	case AllocateInterest:
		if amount.GreaterThan(totalInterest) {
			return nil, fmt.Errorf("%w: lot %s/%s requested %s, accrued %s",
				pledge.ErrExceedsAccrued, lot.DealerID, lot.Lot, amount, totalInterest)
		}
	case AllocatePrincipal:
		if amount.GreaterThan(totalPrincipal) {
			return nil, fmt.Errorf("%w: lot %s/%s requested %s, outstanding %s",
				pledge.ErrExceedsOutstanding, lot.DealerID, lot.Lot, amount, totalPrincipal)
		}
	case AllocateSplit:
		if due := totalInterest.Add(totalPrincipal); amount.GreaterThan(due) {
			return nil, fmt.Errorf("%w: lot %s/%s requested %s, due %s",
				pledge.ErrExceedsOutstanding, lot.DealerID, lot.Lot, amount, due)
		}
	}

	remaining := amount
	if typ == AllocateInterest || typ == AllocateSplit {
		for i := range plan {
			take := remaining.Min(interestDue[i])
			plan[i].interest = take
			remaining = remaining.Sub(take)
		}
	}
	if typ == AllocatePrincipal || typ == AllocateSplit {
		for i := range plan {
			take := remaining.Min(principalDue[i])
			plan[i].principal = take
			remaining = remaining.Sub(take)
		}
	}
	return plan, nil
}

// payShare records one member's share; the member lock is already held.
func (c *Coordinator) payShare(ctx context.Context, a allocation, in LotPayment) (paid, error) {
	p, err := c.dealer.record(ctx, DealerPaymentInput{
		ItemID:    a.item.ID,
		DealerID:  in.DealerID,
		Lot:       in.Lot,
		Interest:  a.interest,
		Principal: a.principal,
		Date:      c.dateOr(in.Date),
		Mode:      in.Mode,
	})
	c.finishPayment(ctx, ledgerDealer, a.item.ID, err)
	if err != nil {
		return paid{}, err
	}
	return paid{interest: p.Interest, principal: p.Principal}, nil
}

// sortLotMembers orders oldest acquisition first, then transfer date, then id.
func sortLotMembers(items []pledge.JewelryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.AcquiredOn.Equal(b.AcquiredOn) {
			return a.AcquiredOn.Before(b.AcquiredOn)
		}
		if !a.Dealer.TransferredOn.Equal(b.Dealer.TransferredOn) {
			return a.Dealer.TransferredOn.Before(b.Dealer.TransferredOn)
		}
		return a.ID < b.ID
	})
}

func allocationIDs(plan []allocation) []pledge.ItemID {
	ids := make([]pledge.ItemID, len(plan))
	for i, a := range plan {
		ids[i] = a.item.ID
	}
	return ids
}
