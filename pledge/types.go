package pledge

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type CustomerID string
type AgentID string
type DealerID string
type LotNumber string
type PaymentID string

// =============================================================================
// CUSTODY STATE
// =============================================================================

// CustodyState records which party physically holds the jewelry.
//
//	InHand ──transfer──▶ WithDealer ──return──▶ InHand ──release──▶ Released
//
// Released is terminal and only reachable from InHand.
type CustodyState string

const (
	StateInHand     CustodyState = "in_hand"
	StateWithDealer CustodyState = "with_dealer"
	StateReleased   CustodyState = "released"
)

func (s CustodyState) IsValid() bool {
	switch s {
	case StateInHand, StateWithDealer, StateReleased:
		return true
	}
	return false
}

// AllStates lists custody states in lifecycle order.
func AllStates() []CustodyState {
	return []CustodyState{StateInHand, StateWithDealer, StateReleased}
}

// =============================================================================
// JEWELRY ITEM - The collateral
// =============================================================================

// JewelryItem is a pledged piece of jewelry and its customer-facing loan terms.
// Principal, rate, compounding and acquisition date never change after
// creation; only State, Dealer and ReleasedOn are mutated.
type JewelryItem struct {
	ID         ItemID
	CustomerID CustomerID
	AgentID    AgentID

	// Master-data descriptors, stored as given.
	Category    string
	Purity      string
	WeightGrams decimal.Decimal
	Description string

	Principal   Money
	AnnualRate  decimal.Decimal // percent
	Compounding Compounding
	AcquiredOn  Date

	State      CustodyState
	Dealer     *DealerLink // non-nil iff State == StateWithDealer
	ReleasedOn *Date

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerTerms returns the accrual terms owed by the customer to the shop.
func (it JewelryItem) CustomerTerms() Terms {
	return Terms{
		Principal:   it.Principal,
		RatePct:     it.AnnualRate,
		Regime:      RegimeCompound,
		Compounding: it.Compounding,
		Start:       it.AcquiredOn,
	}
}

// DealerTerms returns the accrual terms owed by the shop to the dealer.
// ok is false when the item is not with a dealer.
func (it JewelryItem) DealerTerms() (Terms, bool) {
	if it.Dealer == nil {
		return Terms{}, false
	}
	return it.Dealer.Terms(), true
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (it JewelryItem) Clone() JewelryItem {
	out := it
	if it.Dealer != nil {
		link := *it.Dealer
		out.Dealer = &link
	}
	if it.ReleasedOn != nil {
		d := *it.ReleasedOn
		out.ReleasedOn = &d
	}
	return out
}

// DealerLink ties an item to the dealer lot it was re-pledged into.
type DealerLink struct {
	DealerID      DealerID
	Lot           LotNumber
	Advance       Money
	Rate          decimal.Decimal // percent, simple interest
	TransferredOn Date
}

func (l DealerLink) Terms() Terms {
	return Terms{
		Principal: l.Advance,
		RatePct:   l.Rate,
		Regime:    RegimeSimple,
		Start:     l.TransferredOn,
	}
}

// DealerClosure is the audit record kept when an item comes back from a dealer.
type DealerClosure struct {
	ID         string
	ItemID     ItemID
	Link       DealerLink
	ReturnedOn Date
	ClosedAt   time.Time
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentKind discriminates the two payment ledgers.
type PaymentKind string

const (
	KindCustomerPayment PaymentKind = "customer"
	KindDealerPayment   PaymentKind = "dealer"
)

// PaymentMode is how the money moved (cash, upi, ...). Free-form, caller defined.
type PaymentMode string

// PaymentRecord is the flat persisted shape shared by both ledgers.
// DealerID and Lot are empty for customer payments.
type PaymentRecord struct {
	ID             PaymentID
	Kind           PaymentKind
	ItemID         ItemID
	DealerID       DealerID
	Lot            LotNumber
	Interest       Money
	Principal      Money
	Date           Date
	Mode           PaymentMode
	IdempotencyKey string
	CreatedAt      time.Time
}

// Payment is a customer or dealer payment. The set of implementations is
// closed: CustomerPayment and DealerPayment.
type Payment interface {
	Kind() PaymentKind
	Record() PaymentRecord
	isPayment()
}

// CustomerPayment is money paid by the customer to the shop.
type CustomerPayment struct {
	ID        PaymentID
	ItemID    ItemID
	Interest  Money
	Principal Money
	Date      Date
	Mode      PaymentMode
	CreatedAt time.Time
}

func (CustomerPayment) Kind() PaymentKind { return KindCustomerPayment }
func (CustomerPayment) isPayment()        {}

func (p CustomerPayment) Record() PaymentRecord {
	return PaymentRecord{
		ID: p.ID, Kind: KindCustomerPayment, ItemID: p.ItemID,
		Interest: p.Interest, Principal: p.Principal,
		Date: p.Date, Mode: p.Mode, CreatedAt: p.CreatedAt,
	}
}

// DealerPayment is money paid by the shop to a dealer against one lot member.
type DealerPayment struct {
	ID        PaymentID
	ItemID    ItemID
	DealerID  DealerID
	Lot       LotNumber
	Interest  Money
	Principal Money
	Date      Date
	Mode      PaymentMode
	CreatedAt time.Time
}

func (DealerPayment) Kind() PaymentKind { return KindDealerPayment }
func (DealerPayment) isPayment()        {}

func (p DealerPayment) Record() PaymentRecord {
	return PaymentRecord{
		ID: p.ID, Kind: KindDealerPayment, ItemID: p.ItemID,
		DealerID: p.DealerID, Lot: p.Lot,
		Interest: p.Interest, Principal: p.Principal,
		Date: p.Date, Mode: p.Mode, CreatedAt: p.CreatedAt,
	}
}

// AsPayment converts a stored record into its typed form.
func (r PaymentRecord) AsPayment() Payment {
	if r.Kind == KindDealerPayment {
		return DealerPayment{
			ID: r.ID, ItemID: r.ItemID, DealerID: r.DealerID, Lot: r.Lot,
			Interest: r.Interest, Principal: r.Principal,
			Date: r.Date, Mode: r.Mode, CreatedAt: r.CreatedAt,
		}
	}
	return CustomerPayment{
		ID: r.ID, ItemID: r.ItemID,
		Interest: r.Interest, Principal: r.Principal,
		Date: r.Date, Mode: r.Mode, CreatedAt: r.CreatedAt,
	}
}

// SortPayments orders records chronologically, ties broken by insertion time.
func SortPayments(records []PaymentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// =============================================================================
// LOTS & QUERIES
// =============================================================================

// Lot is a dealer-side grouping. It is derived from items, never stored,
// and exists only while at least one member is with the dealer.
type Lot struct {
	DealerID DealerID
	Number   LotNumber
	Items    []ItemID
	Advance  Money // sum of member advances
}

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	State      CustodyState
	CustomerID CustomerID
	DealerID   DealerID
	Lot        LotNumber
}

func (f ItemFilter) Matches(it JewelryItem) bool {
	if f.State != "" && it.State != f.State {
		return false
	}
	if f.CustomerID != "" && it.CustomerID != f.CustomerID {
		return false
	}
	if f.DealerID != "" && (it.Dealer == nil || it.Dealer.DealerID != f.DealerID) {
		return false
	}
	if f.Lot != "" && (it.Dealer == nil || it.Dealer.Lot != f.Lot) {
		return false
	}
	return true
}

// SortItems orders items by acquisition date, then id.
func SortItems(items []JewelryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].AcquiredOn.Equal(items[j].AcquiredOn) {
			return items[i].AcquiredOn.Before(items[j].AcquiredOn)
		}
		return items[i].ID < items[j].ID
	})
}

func sortLots(lots []Lot) {
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].DealerID != lots[j].DealerID {
			return lots[i].DealerID < lots[j].DealerID
		}
		return lots[i].Number < lots[j].Number
	})
}
