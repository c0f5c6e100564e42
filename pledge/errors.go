/*
errors.go - Centralized error types for the girvi engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure is reported synchronously as a typed error; nothing is
  clamped and nothing is retried by the engine.

ERROR CATEGORIES:
  1. Transition errors - custody state machine violations (InvalidState)
  2. Amount errors - non-positive or out-of-range inputs (InvalidAmount)
  3. Limit errors - payments above what is due (ExceedsAccrued, ExceedsOutstanding)
  4. Balance errors - release while money is owed (OutstandingBalance)
  5. Reference errors - deleting an item with history (ReferencedEntity)
  6. Store errors - missing rows, duplicate keys
  7. Input errors - missing ids and other non-monetary fields (InvalidInput)

USAGE:
  Callers branch with errors.Is on the sentinels, or collapse any error to
  its ErrorKind for batch reports and API payloads:

    if errors.Is(err, pledge.ErrExceedsOutstanding) { ... }
    kind := pledge.KindOf(err) // "ExceedsOutstanding"

SEE ALSO:
  - girvi/registry.go: raises TransitionError
  - ledger.go: raises LimitError
  - api/handlers.go: maps kinds to HTTP status codes
*/
package pledge

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidState is returned when a transition is attempted from a
	// custody state that does not allow it.
	ErrInvalidState = errors.New("invalid custody state")

	// ErrInvalidAmount is returned for non-positive or out-of-range money or rates.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrExceedsAccrued is returned when an interest portion is larger than
	// the interest accrued so far.
	ErrExceedsAccrued = errors.New("interest exceeds accrued")

	// ErrExceedsOutstanding is returned when a principal portion is larger
	// than the remaining balance.
	ErrExceedsOutstanding = errors.New("principal exceeds outstanding")

	// ErrOutstandingBalance is returned when a release is attempted while
	// principal is still owed.
	ErrOutstandingBalance = errors.New("outstanding balance")

	// ErrReferencedEntity is returned when deleting an item that has history.
	ErrReferencedEntity = errors.New("entity is referenced")

	// ErrItemNotFound is returned when a jewelry item id is unknown.
	ErrItemNotFound = errors.New("item not found")

	// ErrLotNotFound is returned when no item of a dealer lot is with the dealer.
	ErrLotNotFound = errors.New("lot not found")

	// ErrDuplicateItem is returned when creating an item whose id exists.
	ErrDuplicateItem = errors.New("duplicate item")

	// ErrDuplicateIdempotencyKey is returned when a payment with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidDateRange is returned when an end date precedes its start.
	ErrInvalidDateRange = errors.New("invalid date range: end before start")

	// ErrInvalidInput is returned for missing or malformed non-monetary
	// fields such as ids.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLockTimeout is returned when an item lock cannot be acquired before
	// the context is done.
	ErrLockTimeout = errors.New("item lock not acquired")
)

// =============================================================================
// ERROR KINDS - Names reported to callers
// =============================================================================

type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindInvalidState       ErrorKind = "InvalidState"
	KindInvalidAmount      ErrorKind = "InvalidAmount"
	KindExceedsAccrued     ErrorKind = "ExceedsAccrued"
	KindExceedsOutstanding ErrorKind = "ExceedsOutstanding"
	KindOutstandingBalance ErrorKind = "OutstandingBalance"
	KindReferencedEntity   ErrorKind = "ReferencedEntity"
	KindNotFound           ErrorKind = "NotFound"
	KindDuplicate          ErrorKind = "Duplicate"
	KindInvalidDate        ErrorKind = "InvalidDate"
	KindLockTimeout        ErrorKind = "LockTimeout"
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindInternal           ErrorKind = "Internal"
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidState, KindInvalidState},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrExceedsAccrued, KindExceedsAccrued},
	{ErrExceedsOutstanding, KindExceedsOutstanding},
	{ErrOutstandingBalance, KindOutstandingBalance},
	{ErrReferencedEntity, KindReferencedEntity},
	{ErrItemNotFound, KindNotFound},
	{ErrLotNotFound, KindNotFound},
	{ErrDuplicateItem, KindDuplicate},
	{ErrDuplicateIdempotencyKey, KindDuplicate},
	{ErrInvalidDateRange, KindInvalidDate},
	{ErrLockTimeout, KindLockTimeout},
	{ErrInvalidInput, KindInvalidInput},
}

// KindOf collapses any error to its ErrorKind. Unknown errors are Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, s := range kindBySentinel {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInternal
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a custody transition refused by the state machine.
type TransitionError struct {
	ItemID    ItemID
	Operation string
	From      CustodyState
	Reason    string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: item %s is %s: %s", e.Operation, e.ItemID, e.From, e.Reason)
	}
	return fmt.Sprintf("%s: item %s is %s", e.Operation, e.ItemID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidState }

// LimitError describes an amount above what the ledger allows.
// Unwraps to ErrExceedsAccrued, ErrExceedsOutstanding or ErrOutstandingBalance.
type LimitError struct {
	Kind      error
	ItemID    ItemID
	Requested Money
	Limit     Money
}

func (e *LimitError) Error() string {
	if errors.Is(e.Kind, ErrOutstandingBalance) {
		return fmt.Sprintf("%v: item %s still owes %s", e.Kind, e.ItemID, e.Limit)
	}
	return fmt.Sprintf("%v: item %s requested %s, limit %s", e.Kind, e.ItemID, e.Requested, e.Limit)
}

func (e *LimitError) Unwrap() error { return e.Kind }

// AmountError describes a rejected monetary or rate input.
type AmountError struct {
	Field  string
	Value  string
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// DateError describes a malformed date or a date range running backwards.
type DateError struct {
	Value  string
	Reason string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("invalid date %q: %s", e.Value, e.Reason)
}

func (e *DateError) Unwrap() error { return ErrInvalidDateRange }

// FieldError describes a required or malformed non-monetary field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidInput }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidAmount, KindInvalidDate, KindInvalidInput, KindExceedsAccrued, KindExceedsOutstanding:
		return true
	}
	return false
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	switch KindOf(err) {
	case KindInvalidState, KindOutstandingBalance, KindReferencedEntity, KindDuplicate:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrLotNotFound)
}
