/*
Package sqlite provides a SQLite-backed implementation of pledge.Store.

PURPOSE:
  Embedded single-file persistence for a shop running the engine on one
  machine. The same schema runs on Postgres through store/postgres.

KEY TABLES:
  items:           Jewelry items and their current custody
  payments:        Append-only ledger of customer and dealer payments
  dealer_closures: Append-only audit of finished dealer stints

STORAGE FORMAT:
  Money and rates are stored as decimal TEXT so nothing is lost to float
  conversion. Calendar dates are TEXT "YYYY-MM-DD"; instants are RFC3339Nano.

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE or DELETE on payments or dealer_closures. Items are
  updated only through UpdateCustody.

MIGRATIONS:
  Versioned with goose from the embedded migrations/ directory. New runs
  them; Open does not (tests wrap a mock *sql.DB with Open).

CONCURRENCY:
  Uses sync.RWMutex plus a single open connection: SQLite allows one writer
  and ":memory:" databases are private to their connection.

USAGE:
  st, err := sqlite.New(ctx, "./data/girvi.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  engine := girvi.New(st)

SEE ALSO:
  - pledge/store.go: Interface definitions
  - pledge/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/pledge"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements pledge.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ pledge.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and migrates it to the latest version.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return Open(db), nil
}

// Open wraps an already-migrated database.
func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate runs the embedded goose migrations up.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// =============================================================================
// ITEM STORE
// =============================================================================

func (s *Store) CreateItem(ctx context.Context, item pledge.JewelryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createItem(ctx, s.db, item)
}

func (s *Store) GetItem(ctx context.Context, id pledge.ItemID) (pledge.JewelryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.db, id)
}

func (s *Store) UpdateCustody(ctx context.Context, item pledge.JewelryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateCustody(ctx, s.db, item)
}

func (s *Store) DeleteItem(ctx context.Context, id pledge.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteItem(ctx, s.db, id)
}

func (s *Store) ListItems(ctx context.Context, filter pledge.ItemFilter) ([]pledge.JewelryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listItems(ctx, s.db, filter)
}

const itemColumns = `id, customer_id, agent_id, category, purity, weight_grams, description,
	principal, annual_rate, compounding, acquired_on, state,
	dealer_id, lot, dealer_advance, dealer_rate, transferred_on, released_on,
	created_at, updated_at`

func createItem(ctx context.Context, q querier, it pledge.JewelryItem) error {
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	dealerID, lot, advance, rate, transferredOn := dealerColumns(it.Dealer)

	_, err := q.ExecContext(ctx, `INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.CustomerID, it.AgentID, it.Category, it.Purity, it.WeightGrams.String(), it.Description,
		it.Principal.Decimal(), it.AnnualRate.String(), it.Compounding, it.AcquiredOn.String(), it.State,
		dealerID, lot, advance, rate, transferredOn, nullDate(it.ReleasedOn),
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return pledge.ErrDuplicateItem
		}
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func getItem(ctx context.Context, q querier, id pledge.ItemID) (pledge.JewelryItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return pledge.JewelryItem{}, pledge.ErrItemNotFound
	}
	if err != nil {
		return pledge.JewelryItem{}, fmt.Errorf("failed to load item %s: %w", id, err)
	}
	return it, nil
}

func updateCustody(ctx context.Context, q querier, it pledge.JewelryItem) error {
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	dealerID, lot, advance, rate, transferredOn := dealerColumns(it.Dealer)

	res, err := q.ExecContext(ctx, `UPDATE items SET
			state = ?, dealer_id = ?, lot = ?, dealer_advance = ?, dealer_rate = ?,
			transferred_on = ?, released_on = ?, updated_at = ?
		WHERE id = ?`,
		it.State, dealerID, lot, advance, rate, transferredOn, nullDate(it.ReleasedOn),
		formatTime(it.UpdatedAt), it.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", it.ID, err)
	}
	return requireOneRow(res, it.ID)
}

func deleteItem(ctx context.Context, q querier, id pledge.ItemID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func listItems(ctx context.Context, q querier, f pledge.ItemFilter) ([]pledge.JewelryItem, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.DealerID != "" {
		where = append(where, "dealer_id = ?")
		args = append(args, f.DealerID)
	}
	if f.Lot != "" {
		where = append(where, "lot = ?")
		args = append(args, f.Lot)
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY acquired_on, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []pledge.JewelryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (pledge.JewelryItem, error) {
	var (
		it                                              pledge.JewelryItem
		weight, principal, rate, acquiredOn             string
		createdAt, updatedAt                            string
		dealerID, lot, advance, dealerRate, transferred sql.NullString
		releasedOn                                      sql.NullString
	)
	err := sc.Scan(
		&it.ID, &it.CustomerID, &it.AgentID, &it.Category, &it.Purity, &weight, &it.Description,
		&principal, &rate, &it.Compounding, &acquiredOn, &it.State,
		&dealerID, &lot, &advance, &dealerRate, &transferred, &releasedOn,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return pledge.JewelryItem{}, err
	}

	p := parser{}
	it.WeightGrams = p.decimal(weight)
	it.Principal = pledge.Money{Value: p.decimal(principal)}
	it.AnnualRate = p.decimal(rate)
	it.AcquiredOn = p.date(acquiredOn)
	it.CreatedAt = p.time(createdAt)
	it.UpdatedAt = p.time(updatedAt)
	if dealerID.Valid {
		it.Dealer = &pledge.DealerLink{
			DealerID:      pledge.DealerID(dealerID.String),
			Lot:           pledge.LotNumber(lot.String),
			Advance:       pledge.Money{Value: p.decimal(advance.String)},
			Rate:          p.decimal(dealerRate.String),
			TransferredOn: p.date(transferred.String),
		}
	}
	if releasedOn.Valid {
		d := p.date(releasedOn.String)
		it.ReleasedOn = &d
	}
	return it, p.err
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

// AppendPayment adds a payment to the ledger.
func (s *Store) AppendPayment(ctx context.Context, rec pledge.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendPayment(ctx, s.db, rec)
}

func (s *Store) Payments(ctx context.Context, itemID pledge.ItemID) ([]pledge.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return payments(ctx, s.db, itemID)
}

func appendPayment(ctx context.Context, q querier, rec pledge.PaymentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO payments
		(id, kind, item_id, dealer_id, lot, interest, principal, paid_on, mode, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.ItemID, rec.DealerID, rec.Lot,
		rec.Interest.Decimal(), rec.Principal.Decimal(), rec.Date.String(), rec.Mode,
		nullString(rec.IdempotencyKey), formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return pledge.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func payments(ctx context.Context, q querier, itemID pledge.ItemID) ([]pledge.PaymentRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, kind, item_id, dealer_id, lot, interest, principal,
			paid_on, mode, idempotency_key, created_at
		FROM payments WHERE item_id = ?
		ORDER BY paid_on, rowid`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	defer rows.Close()

	var out []pledge.PaymentRecord
	for rows.Next() {
		var (
			rec                                  pledge.PaymentRecord
			interest, principal, paidOn, created string
			key                                  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.ItemID, &rec.DealerID, &rec.Lot,
			&interest, &principal, &paidOn, &rec.Mode, &key, &created); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p := parser{}
		rec.Interest = pledge.Money{Value: p.decimal(interest)}
		rec.Principal = pledge.Money{Value: p.decimal(principal)}
		rec.Date = p.date(paidOn)
		rec.CreatedAt = p.time(created)
		rec.IdempotencyKey = key.String
		if p.err != nil {
			return nil, fmt.Errorf("payment %s: %w", rec.ID, p.err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// CLOSURE STORE
// =============================================================================

func (s *Store) AppendClosure(ctx context.Context, c pledge.DealerClosure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendClosure(ctx, s.db, c)
}

func (s *Store) Closures(ctx context.Context, itemID pledge.ItemID) ([]pledge.DealerClosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return closures(ctx, s.db, itemID)
}

func appendClosure(ctx context.Context, q querier, c pledge.DealerClosure) error {
	if c.ClosedAt.IsZero() {
		c.ClosedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO dealer_closures
		(id, item_id, dealer_id, lot, advance, rate, transferred_on, returned_on, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ItemID, c.Link.DealerID, c.Link.Lot, c.Link.Advance.Decimal(), c.Link.Rate.String(),
		c.Link.TransferredOn.String(), c.ReturnedOn.String(), formatTime(c.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append dealer closure: %w", err)
	}
	return nil
}

func closures(ctx context.Context, q querier, itemID pledge.ItemID) ([]pledge.DealerClosure, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, item_id, dealer_id, lot, advance, rate,
			transferred_on, returned_on, closed_at
		FROM dealer_closures WHERE item_id = ?
		ORDER BY rowid`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dealer closures: %w", err)
	}
	defer rows.Close()

	var out []pledge.DealerClosure
	for rows.Next() {
		var (
			c                                             pledge.DealerClosure
			advance, rate, transferred, returned, closed string
		)
		if err := rows.Scan(&c.ID, &c.ItemID, &c.Link.DealerID, &c.Link.Lot,
			&advance, &rate, &transferred, &returned, &closed); err != nil {
			return nil, fmt.Errorf("failed to scan dealer closure: %w", err)
		}
		p := parser{}
		c.Link.Advance = pledge.Money{Value: p.decimal(advance)}
		c.Link.Rate = p.decimal(rate)
		c.Link.TransferredOn = p.date(transferred)
		c.ReturnedOn = p.date(returned)
		c.ClosedAt = p.time(closed)
		if p.err != nil {
			return nil, fmt.Errorf("dealer closure %s: %w", c.ID, p.err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(pledge.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore runs every call on the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateItem(ctx context.Context, item pledge.JewelryItem) error {
	return createItem(ctx, ts.tx, item)
}

func (ts *txStore) GetItem(ctx context.Context, id pledge.ItemID) (pledge.JewelryItem, error) {
	return getItem(ctx, ts.tx, id)
}

func (ts *txStore) UpdateCustody(ctx context.Context, item pledge.JewelryItem) error {
	return updateCustody(ctx, ts.tx, item)
}

func (ts *txStore) DeleteItem(ctx context.Context, id pledge.ItemID) error {
	return deleteItem(ctx, ts.tx, id)
}

func (ts *txStore) ListItems(ctx context.Context, filter pledge.ItemFilter) ([]pledge.JewelryItem, error) {
	return listItems(ctx, ts.tx, filter)
}

func (ts *txStore) AppendPayment(ctx context.Context, rec pledge.PaymentRecord) error {
	return appendPayment(ctx, ts.tx, rec)
}

func (ts *txStore) Payments(ctx context.Context, itemID pledge.ItemID) ([]pledge.PaymentRecord, error) {
	return payments(ctx, ts.tx, itemID)
}

func (ts *txStore) AppendClosure(ctx context.Context, c pledge.DealerClosure) error {
	return appendClosure(ctx, ts.tx, c)
}

func (ts *txStore) Closures(ctx context.Context, itemID pledge.ItemID) ([]pledge.DealerClosure, error) {
	return closures(ctx, ts.tx, itemID)
}

// WithTx joins the enclosing transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(pledge.Store) error) error {
	return fn(ts)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"dealer_closures", "payments", "items"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func dealerColumns(l *pledge.DealerLink) (dealerID, lot, advance, rate, transferredOn sql.NullString) {
	if l == nil {
		return
	}
	return nullString(string(l.DealerID)), nullString(string(l.Lot)),
		nullString(l.Advance.Decimal()), nullString(l.Rate.String()),
		nullString(l.TransferredOn.String())
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *pledge.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func requireOneRow(res sql.Result, id pledge.ItemID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for item %s: %w", id, err)
	}
	if n == 0 {
		return pledge.ErrItemNotFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// parser collects the first conversion error across a row's columns.
type parser struct {
	err error
}

func (p *parser) decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("bad decimal %q: %w", s, err)
	}
	return d
}

func (p *parser) date(s string) pledge.Date {
	d, err := pledge.ParseDate(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

func (p *parser) time(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t
}
