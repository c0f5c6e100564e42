// Package store provides the in-memory pledge.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/girvi-engine/pledge"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	items       map[pledge.ItemID]pledge.JewelryItem
	payments    map[pledge.ItemID][]pledge.PaymentRecord
	closures    map[pledge.ItemID][]pledge.DealerClosure
	idempotency map[string]bool
}

var _ pledge.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		items:       make(map[pledge.ItemID]pledge.JewelryItem),
		payments:    make(map[pledge.ItemID][]pledge.PaymentRecord),
		closures:    make(map[pledge.ItemID][]pledge.DealerClosure),
		idempotency: make(map[string]bool),
	}
}

// Reset clears all data (for demo scenarios).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[pledge.ItemID]pledge.JewelryItem)
	m.payments = make(map[pledge.ItemID][]pledge.PaymentRecord)
	m.closures = make(map[pledge.ItemID][]pledge.DealerClosure)
	m.idempotency = make(map[string]bool)
	return nil
}

func (m *Memory) CreateItem(_ context.Context, item pledge.JewelryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(item)
}

func (m *Memory) GetItem(_ context.Context, id pledge.ItemID) (pledge.JewelryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) UpdateCustody(_ context.Context, item pledge.JewelryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(item)
}

func (m *Memory) DeleteItem(_ context.Context, id pledge.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) ListItems(_ context.Context, filter pledge.ItemFilter) ([]pledge.JewelryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

// AppendPayment adds a single payment. Append-only.
func (m *Memory) AppendPayment(_ context.Context, rec pledge.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPaymentLocked(rec)
}

func (m *Memory) Payments(_ context.Context, itemID pledge.ItemID) ([]pledge.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentsLocked(itemID), nil
}

func (m *Memory) AppendClosure(_ context.Context, c pledge.DealerClosure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendClosureLocked(c)
}

func (m *Memory) Closures(_ context.Context, itemID pledge.ItemID) ([]pledge.DealerClosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closuresLocked(itemID), nil
}

// =============================================================================
// LOCKED HELPERS - caller holds mu
// =============================================================================

func (m *Memory) createLocked(item pledge.JewelryItem) error {
	if _, ok := m.items[item.ID]; ok {
		return pledge.ErrDuplicateItem
	}
	m.items[item.ID] = item.Clone()
	return nil
}

func (m *Memory) getLocked(id pledge.ItemID) (pledge.JewelryItem, error) {
	it, ok := m.items[id]
	if !ok {
		return pledge.JewelryItem{}, pledge.ErrItemNotFound
	}
	return it.Clone(), nil
}

func (m *Memory) updateLocked(item pledge.JewelryItem) error {
	stored, ok := m.items[item.ID]
	if !ok {
		return pledge.ErrItemNotFound
	}
	upd := item.Clone()
	stored.State = upd.State
	stored.Dealer = upd.Dealer
	stored.ReleasedOn = upd.ReleasedOn
	stored.UpdatedAt = upd.UpdatedAt
	m.items[item.ID] = stored
	return nil
}

func (m *Memory) deleteLocked(id pledge.ItemID) error {
	if _, ok := m.items[id]; !ok {
		return pledge.ErrItemNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *Memory) listLocked(filter pledge.ItemFilter) []pledge.JewelryItem {
	var out []pledge.JewelryItem
	for _, it := range m.items {
		if filter.Matches(it) {
			out = append(out, it.Clone())
		}
	}
	pledge.SortItems(out)
	return out
}

func (m *Memory) appendPaymentLocked(rec pledge.PaymentRecord) error {
	if rec.IdempotencyKey != "" && m.idempotency[rec.IdempotencyKey] {
		return pledge.ErrDuplicateIdempotencyKey
	}
	recs := m.payments[rec.ItemID]

	// keep records sorted; equal dates stay in insertion order
	i := sort.Search(len(recs), func(i int) bool {
		return recs[i].Date.After(rec.Date)
	})
	recs = append(recs, pledge.PaymentRecord{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	m.payments[rec.ItemID] = recs

	if rec.IdempotencyKey != "" {
		m.idempotency[rec.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) paymentsLocked(itemID pledge.ItemID) []pledge.PaymentRecord {
	out := make([]pledge.PaymentRecord, len(m.payments[itemID]))
	copy(out, m.payments[itemID])
	return out
}

func (m *Memory) appendClosureLocked(c pledge.DealerClosure) error {
	m.closures[c.ItemID] = append(m.closures[c.ItemID], c)
	return nil
}

func (m *Memory) closuresLocked(itemID pledge.ItemID) []pledge.DealerClosure {
	out := make([]pledge.DealerClosure, len(m.closures[itemID]))
	copy(out, m.closures[itemID])
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(pledge.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	items       map[pledge.ItemID]pledge.JewelryItem
	payments    map[pledge.ItemID][]pledge.PaymentRecord
	closures    map[pledge.ItemID][]pledge.DealerClosure
	idempotency map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		items:       make(map[pledge.ItemID]pledge.JewelryItem, len(m.items)),
		payments:    make(map[pledge.ItemID][]pledge.PaymentRecord, len(m.payments)),
		closures:    make(map[pledge.ItemID][]pledge.DealerClosure, len(m.closures)),
		idempotency: make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.items {
		s.items[k] = v.Clone()
	}
	for k, v := range m.payments {
		s.payments[k] = append([]pledge.PaymentRecord{}, v...)
	}
	for k, v := range m.closures {
		s.closures[k] = append([]pledge.DealerClosure{}, v...)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.items = s.items
	m.payments = s.payments
	m.closures = s.closures
	m.idempotency = s.idempotency
}

// txView is the store handed to WithTx callbacks. The parent lock is
// already held, so it goes straight to the locked helpers.
type txView struct {
	parent *Memory
}

func (tv *txView) CreateItem(_ context.Context, item pledge.JewelryItem) error {
	return tv.parent.createLocked(item)
}

func (tv *txView) GetItem(_ context.Context, id pledge.ItemID) (pledge.JewelryItem, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) UpdateCustody(_ context.Context, item pledge.JewelryItem) error {
	return tv.parent.updateLocked(item)
}

func (tv *txView) DeleteItem(_ context.Context, id pledge.ItemID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txView) ListItems(_ context.Context, filter pledge.ItemFilter) ([]pledge.JewelryItem, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txView) AppendPayment(_ context.Context, rec pledge.PaymentRecord) error {
	return tv.parent.appendPaymentLocked(rec)
}

func (tv *txView) Payments(_ context.Context, itemID pledge.ItemID) ([]pledge.PaymentRecord, error) {
	return tv.parent.paymentsLocked(itemID), nil
}

func (tv *txView) AppendClosure(_ context.Context, c pledge.DealerClosure) error {
	return tv.parent.appendClosureLocked(c)
}

func (tv *txView) Closures(_ context.Context, itemID pledge.ItemID) ([]pledge.DealerClosure, error) {
	return tv.parent.closuresLocked(itemID), nil
}

// WithTx on a view joins the enclosing transaction.
func (tv *txView) WithTx(_ context.Context, fn func(pledge.Store) error) error {
	return fn(tv)
}
