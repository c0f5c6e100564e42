/*
engine.go - Wiring of the girvi dual-ledger engine

PURPOSE:
  The Engine owns one Store, one Locker, one logger and one metrics
  recorder, and exposes the four components built on them:

    Registry     collateral identity and custody transitions
    Customer     customer -> shop payments (compound interest)
    Dealer       shop -> dealer payments (simple interest)
    Coordinator  single and batch orchestration across the above

LOCKING:
  Every read-validate-write on an item holds lock.ItemKey(item). Public
  methods take the lock; the unexported variants assume it is held, so the
  coordinator can lock a whole lot (in sorted id order) and then call them.
  Locks are not reentrant: never call a public mutating method while
  holding an item's lock.

READS:
  Reads (statements, summaries, listings) do not lock. Each store call
  returns a consistent copy; a read racing a write sees either side of it.

EXAMPLE:
  eng := girvi.New(store.NewMemory(), girvi.WithLogger(log))

  item, err := eng.Registry.Create(ctx, girvi.NewItem{...})
  _, err = eng.Customer.RecordPayment(ctx, girvi.CustomerPaymentInput{...})
  report, err := eng.Coordinator.BulkRelease(ctx, ids, date)

SEE ALSO:
  - pledge/ledger.go: position replay shared by both ledgers
  - lock/: Locker implementations
*/
package girvi

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/warp/girvi-engine/lock"
	"github.com/warp/girvi-engine/logging"
	"github.com/warp/girvi-engine/metrics"
	"github.com/warp/girvi-engine/pledge"
)

const defaultParallelism = 8

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	*core

	Registry    *Registry
	Customer    *CustomerLedger
	Dealer      *DealerLedger
	Coordinator *Coordinator
}

// core is the state shared by every component.
type core struct {
	store       pledge.Store
	locker      lock.Locker
	log         *logging.Logger
	metrics     *metrics.Recorder
	now         func() time.Time
	newID       func() string
	parallelism int
}

type Option func(*core)

func WithLocker(l lock.Locker) Option {
	return func(c *core) { c.locker = l }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *core) { c.log = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(c *core) { c.metrics = m }
}

// WithClock overrides the wall clock used for CreatedAt stamps and for
// dates the caller leaves empty.
func WithClock(now func() time.Time) Option {
	return func(c *core) { c.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(c *core) { c.newID = fn }
}

// WithParallelism bounds how many items a batch processes at once.
func WithParallelism(n int) Option {
	return func(c *core) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// New builds an engine around st. Without options it uses an in-process
// keyed lock, a no-op logger and no metrics.
func New(st pledge.Store, opts ...Option) *Engine {
	c := &core{
		store:       st,
		locker:      lock.NewKeyed(),
		log:         logging.Nop(),
		now:         time.Now,
		newID:       uuid.NewString,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(c)
	}

	e := &Engine{core: c}
	e.Registry = &Registry{core: c}
	e.Customer = &CustomerLedger{core: c}
	e.Dealer = &DealerLedger{core: c}
	e.Coordinator = &Coordinator{
		core:     c,
		registry: e.Registry,
		customer: e.Customer,
		dealer:   e.Dealer,
	}
	return e
}

// PaymentsFor returns every payment of an item, customer and dealer side,
// in date order.
func (e *Engine) PaymentsFor(ctx context.Context, itemID pledge.ItemID) ([]pledge.Payment, error) {
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	recs, err := e.store.Payments(ctx, itemID)
	if err != nil {
		return nil, err
	}
	out := make([]pledge.Payment, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.AsPayment())
	}
	return out, nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func (c *core) today() pledge.Date {
	return pledge.DateOf(c.now())
}

// dateOr returns d, or today when d is the zero date.
func (c *core) dateOr(d pledge.Date) pledge.Date {
	if d.IsZero() {
		return c.today()
	}
	return d
}

// lockItems acquires the locks of ids in sorted order, skipping repeats.
// On error nothing stays locked.
func (c *core) lockItems(ctx context.Context, ids ...pledge.ItemID) (func(), error) {
	keys := make([]string, 0, len(ids))
	seen := make(map[pledge.ItemID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, lock.ItemKey(string(id)))
	}
	sort.Strings(keys)

	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys {
		unlock, err := c.locker.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// customerPosition replays the customer-side payments of item.
func (c *core) customerPosition(ctx context.Context, item pledge.JewelryItem) (pledge.Position, error) {
	recs, err := c.store.Payments(ctx, item.ID)
	if err != nil {
		return pledge.Position{}, err
	}
	return pledge.Replay(item.ID, item.CustomerTerms(), pledge.PaymentsOfKind(recs, pledge.KindCustomerPayment))
}

// dealerPosition replays the payments of the item's live dealer stint.
func (c *core) dealerPosition(ctx context.Context, item pledge.JewelryItem) (pledge.Position, error) {
	terms, ok := item.DealerTerms()
	if !ok {
		return pledge.Position{}, &pledge.TransitionError{
			ItemID: item.ID, Operation: "dealer ledger", From: item.State, Reason: "item is not with a dealer",
		}
	}
	recs, err := c.store.Payments(ctx, item.ID)
	if err != nil {
		return pledge.Position{}, err
	}
	return pledge.Replay(item.ID, terms, pledge.DealerPaymentsFor(recs, item.Dealer.DealerID, item.Dealer.Lot))
}

func requireID(field, value string) error {
	if value == "" {
		return &pledge.FieldError{Field: field, Reason: "is required"}
	}
	return nil
}
