/*
store.go - Persistence interfaces for items, payments and dealer closures

PURPOSE:
  Defines the boundary between the engine and its storage. The engine owns
  the rules; a Store only persists flat records. Backends can be swapped
  (memory, SQLite, Postgres) without touching the engine's contract.

KEY INTERFACES:
  ItemStore:    Jewelry items (create, custody update, delete, query)
  PaymentStore: Customer and dealer payments (append-only)
  ClosureStore: Dealer closures kept for audit (append-only)
  Store:        All of the above plus WithTx

APPEND-ONLY CONTRACT:
  Payments and closures are never updated or deleted. Items are mutated
  only through UpdateCustody, which touches State, Dealer and ReleasedOn.

IDEMPOTENCY:
  A payment with a non-empty idempotency key that already exists is
  rejected with ErrDuplicateIdempotencyKey.

IMPLEMENTATIONS:
  - pledge/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: Embedded SQLite
  - store/postgres/postgres.go: Postgres through GORM

SEE ALSO:
  - girvi/engine.go: wires a Store into the engine
*/
package pledge

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

type ItemStore interface {
	// CreateItem inserts a new item. Returns ErrDuplicateItem if the id exists.
	CreateItem(ctx context.Context, item JewelryItem) error

	// GetItem returns the item or ErrItemNotFound.
	GetItem(ctx context.Context, id ItemID) (JewelryItem, error)

	// UpdateCustody persists State, Dealer and ReleasedOn of item.
	// Returns ErrItemNotFound if the id does not exist.
	UpdateCustody(ctx context.Context, item JewelryItem) error

	// DeleteItem removes an item. Returns ErrItemNotFound if absent.
	DeleteItem(ctx context.Context, id ItemID) error

	// ListItems returns items matching filter ordered by acquisition date then id.
	ListItems(ctx context.Context, filter ItemFilter) ([]JewelryItem, error)
}

type PaymentStore interface {
	// AppendPayment persists a payment record. Append-only.
	AppendPayment(ctx context.Context, rec PaymentRecord) error

	// Payments returns all payments of an item, chronologically.
	Payments(ctx context.Context, itemID ItemID) ([]PaymentRecord, error)
}

type ClosureStore interface {
	// AppendClosure records a finished dealer stint. Append-only.
	AppendClosure(ctx context.Context, c DealerClosure) error

	// Closures returns the dealer closures of an item, oldest first.
	Closures(ctx context.Context, itemID ItemID) ([]DealerClosure, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	ItemStore
	PaymentStore
	ClosureStore

	// WithTx executes fn atomically. If fn returns an error, nothing fn
	// wrote is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// PaymentsOfKind filters records by ledger side.
func PaymentsOfKind(records []PaymentRecord, kind PaymentKind) []PaymentRecord {
	var out []PaymentRecord
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// DealerPaymentsFor filters dealer records of one (dealer, lot) stint.
func DealerPaymentsFor(records []PaymentRecord, dealer DealerID, lot LotNumber) []PaymentRecord {
	var out []PaymentRecord
	for _, r := range records {
		if r.Kind == KindDealerPayment && r.DealerID == dealer && r.Lot == lot {
			out = append(out, r)
		}
	}
	return out
}

// GroupLots derives the open lots from items currently with a dealer.
// Lots are ordered by dealer then lot number.
func GroupLots(items []JewelryItem) []Lot {
	type key struct {
		dealer DealerID
		lot    LotNumber
	}
	index := make(map[key]int)
	var lots []Lot
	for _, it := range items {
		if it.State != StateWithDealer || it.Dealer == nil {
			continue
		}
		k := key{it.Dealer.DealerID, it.Dealer.Lot}
		i, ok := index[k]
		if !ok {
			i = len(lots)
			index[k] = i
			lots = append(lots, Lot{DealerID: k.dealer, Number: k.lot, Advance: ZeroMoney()})
		}
		lots[i].Items = append(lots[i].Items, it.ID)
		lots[i].Advance = lots[i].Advance.Add(it.Dealer.Advance)
	}
	sortLots(lots)
	return lots
}
