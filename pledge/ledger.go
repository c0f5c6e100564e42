/*
ledger.go - Replay of payments into a ledger position

PURPOSE:
  A ledger side (customer or dealer) is never stored as a balance. It is
  always recomputed by replaying the item's payments, in date order, over
  the side's Terms. Both sides share this code; they differ only in their
  Terms (compound on the customer principal vs simple on the dealer advance).

ACCRUAL BASIS:
  Interest accrues on the CURRENT outstanding principal from the basis date,
  which starts at Terms.Start and moves to the date of every payment. Interest
  accrued but not paid at a settlement is carried forward as Arrears; it is
  owed but does not itself earn interest. A settlement compares the payment
  with the accrual rounded to paise, so paying the displayed figure leaves
  no arrears whichever way the rounding went.

    accrued(asOf) = Arrears + Accrue(Outstanding, Basis -> asOf)

VALIDATION (Apply):
  1. Portions are non-negative and at least one is positive
  2. Payment date is on or after the basis date
  3. Interest portion <= accrued, rounded to paise
  4. Principal portion <= outstanding
  Nothing is clamped: a payment that would overpay is rejected.

CRITICAL INVARIANTS:
  - Outstanding never goes negative
  - Outstanding is non-increasing as payments are applied

SEE ALSO:
  - interest.go: the accrual functions
  - girvi/customer_ledger.go, girvi/dealer_ledger.go: the two sides
*/
package pledge

// =============================================================================
// POSITION - One side of an item's ledger at its latest settlement
// =============================================================================

type Position struct {
	ItemID ItemID
	Terms  Terms

	Outstanding   Money
	PrincipalPaid Money
	InterestPaid  Money
	Arrears       Money

	Basis         Date
	LastPaymentOn *Date
	Payments      int
}

// Open returns the position of a side with no payments.
func Open(itemID ItemID, terms Terms) Position {
	return Position{
		ItemID:        itemID,
		Terms:         terms,
		Outstanding:   terms.Principal,
		PrincipalPaid: ZeroMoney(),
		InterestPaid:  ZeroMoney(),
		Arrears:       ZeroMoney(),
		Basis:         terms.Start,
	}
}

// Replay folds already-accepted payment records over terms.
// Records are sorted by date first; the input slice is not modified.
func Replay(itemID ItemID, terms Terms, records []PaymentRecord) (Position, error) {
	sorted := make([]PaymentRecord, len(records))
	copy(sorted, records)
	SortPayments(sorted)

	p := Open(itemID, terms)
	for _, r := range sorted {
		accrued, err := p.AccruedAsOf(r.Date)
		if err != nil {
			return Position{}, err
		}
		p = p.settle(accrued, r.Interest, r.Principal, r.Date)
	}
	return p, nil
}

// AccruedAsOf returns the interest owed at asOf, unrounded.
func (p Position) AccruedAsOf(asOf Date) (Money, error) {
	fresh, err := Accrue(p.Terms, p.Outstanding, p.Basis, asOf)
	if err != nil {
		return Money{}, err
	}
	return p.Arrears.Add(fresh), nil
}

// IsSettled reports whether no principal remains.
func (p Position) IsSettled() bool {
	return !p.Outstanding.IsPositive()
}

// Apply validates a payment against the position and returns the position
// after it. The receiver is not modified.
func (p Position) Apply(interest, principal Money, date Date) (Position, error) {
	if err := ValidatePortions(interest, principal); err != nil {
		return Position{}, err
	}

	accrued, err := p.AccruedAsOf(date)
	if err != nil {
		return Position{}, err
	}
	if due := accrued.RoundPaise(); interest.GreaterThan(due) {
		return Position{}, &LimitError{Kind: ErrExceedsAccrued, ItemID: p.ItemID, Requested: interest, Limit: due}
	}
	if principal.GreaterThan(p.Outstanding) {
		return Position{}, &LimitError{Kind: ErrExceedsOutstanding, ItemID: p.ItemID, Requested: principal, Limit: p.Outstanding}
	}

	return p.settle(accrued, interest, principal, date), nil
}

func (p Position) settle(accrued, interest, principal Money, date Date) Position {
	// settled against the paise-rounded figure, so arrears are whole paise
	arrears := accrued.RoundPaise().Sub(interest)
	if arrears.IsNegative() {
		arrears = ZeroMoney()
	}

	p.Arrears = arrears
	p.Outstanding = p.Outstanding.Sub(principal)
	p.PrincipalPaid = p.PrincipalPaid.Add(principal)
	p.InterestPaid = p.InterestPaid.Add(interest)
	p.Basis = date
	d := date
	p.LastPaymentOn = &d
	p.Payments++
	return p
}

// ValidatePortions checks the non-negativity rules shared by both ledgers:
// each portion >= 0, at least one > 0, and no precision below one paisa.
func ValidatePortions(interest, principal Money) error {
	if interest.IsNegative() {
		return &AmountError{Field: "interest", Value: interest.Decimal(), Reason: "must not be negative"}
	}
	if principal.IsNegative() {
		return &AmountError{Field: "principal", Value: principal.Decimal(), Reason: "must not be negative"}
	}
	if interest.IsZero() && principal.IsZero() {
		return &AmountError{Field: "payment", Value: "0", Reason: "interest or principal must be positive"}
	}
	if interest.HasSubPaise() {
		return &AmountError{Field: "interest", Value: interest.Decimal(), Reason: "finer than one paisa"}
	}
	if principal.HasSubPaise() {
		return &AmountError{Field: "principal", Value: principal.Decimal(), Reason: "finer than one paisa"}
	}
	return nil
}

// =============================================================================
// STATEMENT - Read view of a position at a date
// =============================================================================

// Statement is what a payment form needs to pre-fill: what is owed as of a date.
type Statement struct {
	ItemID        ItemID
	AsOf          Date
	Principal     Money
	Outstanding   Money
	Accrued       Money // unrounded
	PrincipalPaid Money
	InterestPaid  Money
	Basis         Date
	LastPaymentOn *Date
	Payments      int
}

// StatementAt computes the statement of the position as of asOf.
func (p Position) StatementAt(asOf Date) (Statement, error) {
	accrued, err := p.AccruedAsOf(asOf)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		ItemID:        p.ItemID,
		AsOf:          asOf,
		Principal:     p.Terms.Principal,
		Outstanding:   p.Outstanding,
		Accrued:       accrued,
		PrincipalPaid: p.PrincipalPaid,
		InterestPaid:  p.InterestPaid,
		Basis:         p.Basis,
		LastPaymentOn: p.LastPaymentOn,
		Payments:      p.Payments,
	}, nil
}
