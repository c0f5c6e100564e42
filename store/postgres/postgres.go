/*
Package postgres provides a Postgres implementation of pledge.Store on GORM.

PURPOSE:
  Multi-branch deployments share one database. The engine's rules stay in
  the girvi package; this is plain persistence.

STORAGE FORMAT:
  Amounts are BIGINT paise. The engine rejects sub-paise input before it
  reaches a store, so the conversion is lossless. Rates are decimal TEXT and
  calendar dates are "YYYY-MM-DD" TEXT so the same models also run on the
  GORM SQLite driver in tests.

ORDERING:
  Payments are ordered by paid_on then created_unix_nano, which equals
  insertion order for records written by one process.

SEE ALSO:
  - pledge/store.go: Interface definitions
  - store/sqlite/sqlite.go: embedded backend with the same tables
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/shopspring/decimal"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/warp/girvi-engine/pledge"
)

// Store implements pledge.Store on a GORM connection.
type Store struct {
	db *gorm.DB
}

var _ pledge.Store = (*Store)(nil)

// New connects to Postgres and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	return Open(ctx, gormpostgres.New(gormpostgres.Config{DSN: dsn, PreferSimpleProtocol: true}))
}

// Open boots a store on any GORM dialector and auto-migrates it.
func Open(ctx context.Context, dialector gorm.Dialector) (*Store, error) {
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.New(log.New(io.Discard, "", log.LstdFlags), gormlogger.Config{LogLevel: gormlogger.Silent}),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}
	if err := conn.WithContext(ctx).AutoMigrate(&itemRow{}, &paymentRow{}, &closureRow{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Store{db: conn}, nil
}

// Ping verifies the datasource is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SetPool sizes the connection pool.
func (s *Store) SetPool(maxOpen, maxIdle int, lifetime time.Duration) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}

// Close shuts down the pooled connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// MODELS
// =============================================================================

type itemRow struct {
	ID             string  `gorm:"primaryKey;size:64"`
	CustomerID     string  `gorm:"size:64;index;not null"`
	AgentID        string  `gorm:"size:64"`
	Category       string
	Purity         string
	WeightGrams    string
	Description    string
	PrincipalPaise int64   `gorm:"not null"`
	AnnualRate     string  `gorm:"not null"`
	Compounding    string  `gorm:"size:16;not null"`
	AcquiredOn     string  `gorm:"size:10;not null;index"`
	State          string  `gorm:"size:16;not null;index"`
	DealerID       *string `gorm:"size:64;index:idx_items_dealer_lot"`
	Lot            *string `gorm:"size:64;index:idx_items_dealer_lot"`
	AdvancePaise   *int64
	DealerRate     *string
	TransferredOn  *string `gorm:"size:10"`
	ReleasedOn     *string `gorm:"size:10"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (itemRow) TableName() string { return "items" }

type paymentRow struct {
	ID              string  `gorm:"primaryKey;size:64"`
	Kind            string  `gorm:"size:16;not null"`
	ItemID          string  `gorm:"size:64;not null;index:idx_payments_item_date"`
	DealerID        string  `gorm:"size:64"`
	Lot             string  `gorm:"size:64"`
	InterestPaise   int64   `gorm:"not null"`
	PrincipalPaise  int64   `gorm:"not null"`
	PaidOn          string  `gorm:"size:10;not null;index:idx_payments_item_date"`
	Mode            string  `gorm:"size:32"`
	IdempotencyKey  *string `gorm:"size:128;uniqueIndex"`
	CreatedUnixNano int64   `gorm:"not null"`
}

func (paymentRow) TableName() string { return "payments" }

type closureRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	ItemID         string `gorm:"size:64;not null;index"`
	DealerID       string `gorm:"size:64;not null"`
	Lot            string `gorm:"size:64;not null"`
	AdvancePaise   int64  `gorm:"not null"`
	Rate           string `gorm:"not null"`
	TransferredOn  string `gorm:"size:10;not null"`
	ReturnedOn     string `gorm:"size:10;not null"`
	ClosedUnixNano int64  `gorm:"not null"`
}

func (closureRow) TableName() string { return "dealer_closures" }

// =============================================================================
// ITEM STORE
// =============================================================================

func (s *Store) CreateItem(ctx context.Context, item pledge.JewelryItem) error {
	row := toItemRow(item)
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pledge.ErrDuplicateItem
	}
	if err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id pledge.ItemID) (pledge.JewelryItem, error) {
	var row itemRow
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pledge.JewelryItem{}, pledge.ErrItemNotFound
	}
	if err != nil {
		return pledge.JewelryItem{}, fmt.Errorf("load item %s: %w", id, err)
	}
	return row.toDomain()
}

func (s *Store) UpdateCustody(ctx context.Context, item pledge.JewelryItem) error {
	row := toItemRow(item)
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Model(&itemRow{}).Where("id = ?", row.ID).Updates(map[string]any{
		"state":          row.State,
		"dealer_id":      row.DealerID,
		"lot":            row.Lot,
		"advance_paise":  row.AdvancePaise,
		"dealer_rate":    row.DealerRate,
		"transferred_on": row.TransferredOn,
		"released_on":    row.ReleasedOn,
		"updated_at":     row.UpdatedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update item %s: %w", item.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return pledge.ErrItemNotFound
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id pledge.ItemID) error {
	res := s.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&itemRow{})
	if res.Error != nil {
		return fmt.Errorf("delete item %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return pledge.ErrItemNotFound
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, f pledge.ItemFilter) ([]pledge.JewelryItem, error) {
	q := s.db.WithContext(ctx).Model(&itemRow{})
	if f.State != "" {
		q = q.Where("state = ?", string(f.State))
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", string(f.CustomerID))
	}
	if f.DealerID != "" {
		q = q.Where("dealer_id = ?", string(f.DealerID))
	}
	if f.Lot != "" {
		q = q.Where("lot = ?", string(f.Lot))
	}

	var rows []itemRow
	if err := q.Order("acquired_on, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	out := make([]pledge.JewelryItem, 0, len(rows))
	for _, r := range rows {
		it, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// =============================================================================
// PAYMENTS & CLOSURES
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, rec pledge.PaymentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row := paymentRow{
		ID:              string(rec.ID),
		Kind:            string(rec.Kind),
		ItemID:          string(rec.ItemID),
		DealerID:        string(rec.DealerID),
		Lot:             string(rec.Lot),
		InterestPaise:   rec.Interest.Paise(),
		PrincipalPaise:  rec.Principal.Paise(),
		PaidOn:          rec.Date.String(),
		Mode:            string(rec.Mode),
		IdempotencyKey:  optional(rec.IdempotencyKey),
		CreatedUnixNano: rec.CreatedAt.UnixNano(),
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pledge.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

func (s *Store) Payments(ctx context.Context, itemID pledge.ItemID) ([]pledge.PaymentRecord, error) {
	var rows []paymentRow
	err := s.db.WithContext(ctx).
		Where("item_id = ?", string(itemID)).
		Order("paid_on, created_unix_nano").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}

	out := make([]pledge.PaymentRecord, 0, len(rows))
	for _, r := range rows {
		d, err := pledge.ParseDate(r.PaidOn)
		if err != nil {
			return nil, fmt.Errorf("payment %s: %w", r.ID, err)
		}
		rec := pledge.PaymentRecord{
			ID:        pledge.PaymentID(r.ID),
			Kind:      pledge.PaymentKind(r.Kind),
			ItemID:    pledge.ItemID(r.ItemID),
			DealerID:  pledge.DealerID(r.DealerID),
			Lot:       pledge.LotNumber(r.Lot),
			Interest:  pledge.NewMoneyFromPaise(r.InterestPaise),
			Principal: pledge.NewMoneyFromPaise(r.PrincipalPaise),
			Date:      d,
			Mode:      pledge.PaymentMode(r.Mode),
			CreatedAt: time.Unix(0, r.CreatedUnixNano).UTC(),
		}
		if r.IdempotencyKey != nil {
			rec.IdempotencyKey = *r.IdempotencyKey
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) AppendClosure(ctx context.Context, c pledge.DealerClosure) error {
	if c.ClosedAt.IsZero() {
		c.ClosedAt = time.Now().UTC()
	}
	row := closureRow{
		ID:             c.ID,
		ItemID:         string(c.ItemID),
		DealerID:       string(c.Link.DealerID),
		Lot:            string(c.Link.Lot),
		AdvancePaise:   c.Link.Advance.Paise(),
		Rate:           c.Link.Rate.String(),
		TransferredOn:  c.Link.TransferredOn.String(),
		ReturnedOn:     c.ReturnedOn.String(),
		ClosedUnixNano: c.ClosedAt.UnixNano(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append dealer closure: %w", err)
	}
	return nil
}

func (s *Store) Closures(ctx context.Context, itemID pledge.ItemID) ([]pledge.DealerClosure, error) {
	var rows []closureRow
	err := s.db.WithContext(ctx).Where("item_id = ?", string(itemID)).Order("closed_unix_nano").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load dealer closures: %w", err)
	}

	out := make([]pledge.DealerClosure, 0, len(rows))
	for _, r := range rows {
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("dealer closure %s rate: %w", r.ID, err)
		}
		c := pledge.DealerClosure{
			ID:     r.ID,
			ItemID: pledge.ItemID(r.ItemID),
			Link: pledge.DealerLink{
				DealerID: pledge.DealerID(r.DealerID),
				Lot:      pledge.LotNumber(r.Lot),
				Advance:  pledge.NewMoneyFromPaise(r.AdvancePaise),
				Rate:     rate,
			},
			ClosedAt: time.Unix(0, r.ClosedUnixNano).UTC(),
		}
		if c.Link.TransferredOn, err = parseStoredDate(r.TransferredOn); err != nil {
			return nil, fmt.Errorf("dealer closure %s: %w", r.ID, err)
		}
		if c.ReturnedOn, err = parseStoredDate(r.ReturnedOn); err != nil {
			return nil, fmt.Errorf("dealer closure %s: %w", r.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// WithTx runs fn in a db transaction, passing a store bound to the tx.
func (s *Store) WithTx(ctx context.Context, fn func(pledge.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// =============================================================================
// MAPPING
// =============================================================================

func toItemRow(it pledge.JewelryItem) itemRow {
	row := itemRow{
		ID:             string(it.ID),
		CustomerID:     string(it.CustomerID),
		AgentID:        string(it.AgentID),
		Category:       it.Category,
		Purity:         it.Purity,
		WeightGrams:    it.WeightGrams.String(),
		Description:    it.Description,
		PrincipalPaise: it.Principal.Paise(),
		AnnualRate:     it.AnnualRate.String(),
		Compounding:    string(it.Compounding),
		AcquiredOn:     it.AcquiredOn.String(),
		State:          string(it.State),
		CreatedAt:      it.CreatedAt,
		UpdatedAt:      it.UpdatedAt,
	}
	if l := it.Dealer; l != nil {
		adv := l.Advance.Paise()
		row.DealerID = optional(string(l.DealerID))
		row.Lot = optional(string(l.Lot))
		row.AdvancePaise = &adv
		row.DealerRate = optional(l.Rate.String())
		row.TransferredOn = optional(l.TransferredOn.String())
	}
	if it.ReleasedOn != nil {
		row.ReleasedOn = optional(it.ReleasedOn.String())
	}
	return row
}

func (r itemRow) toDomain() (pledge.JewelryItem, error) {
	weight, err := decimal.NewFromString(r.WeightGrams)
	if err != nil {
		weight = decimal.Zero
	}
	rate, err := decimal.NewFromString(r.AnnualRate)
	if err != nil {
		return pledge.JewelryItem{}, fmt.Errorf("item %s rate: %w", r.ID, err)
	}
	acquired, err := pledge.ParseDate(r.AcquiredOn)
	if err != nil {
		return pledge.JewelryItem{}, fmt.Errorf("item %s: %w", r.ID, err)
	}

	it := pledge.JewelryItem{
		ID:          pledge.ItemID(r.ID),
		CustomerID:  pledge.CustomerID(r.CustomerID),
		AgentID:     pledge.AgentID(r.AgentID),
		Category:    r.Category,
		Purity:      r.Purity,
		WeightGrams: weight,
		Description: r.Description,
		Principal:   pledge.NewMoneyFromPaise(r.PrincipalPaise),
		AnnualRate:  rate,
		Compounding: pledge.Compounding(r.Compounding),
		AcquiredOn:  acquired,
		State:       pledge.CustodyState(r.State),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.DealerID != nil {
		link := pledge.DealerLink{DealerID: pledge.DealerID(*r.DealerID)}
		if r.Lot != nil {
			link.Lot = pledge.LotNumber(*r.Lot)
		}
		if r.AdvancePaise != nil {
			link.Advance = pledge.NewMoneyFromPaise(*r.AdvancePaise)
		}
		if r.DealerRate != nil {
			if link.Rate, err = decimal.NewFromString(*r.DealerRate); err != nil {
				return pledge.JewelryItem{}, fmt.Errorf("item %s dealer rate: %w", r.ID, err)
			}
		}
		if r.TransferredOn != nil {
			if link.TransferredOn, err = pledge.ParseDate(*r.TransferredOn); err != nil {
				return pledge.JewelryItem{}, fmt.Errorf("item %s: %w", r.ID, err)
			}
		}
		it.Dealer = &link
	}
	if r.ReleasedOn != nil {
		d, err := pledge.ParseDate(*r.ReleasedOn)
		if err != nil {
			return pledge.JewelryItem{}, fmt.Errorf("item %s: %w", r.ID, err)
		}
		it.ReleasedOn = &d
	}
	return it, nil
}

// parseStoredDate reads a "YYYY-MM-DD" column; zero dates are stored as "".
func parseStoredDate(s string) (pledge.Date, error) {
	if s == "" {
		return pledge.Date{}, nil
	}
	return pledge.ParseDate(s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
