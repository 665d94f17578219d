/*
Package sqldb provides a Store backed by SQL tables through gorm.

PURPOSE:
  The remote backend for deployments with a database server. The same code
  runs against MySQL, PostgreSQL and SQLite; only the dialector changes.

KEY TABLES:
  points_history: entries (one row per earn/deduct record)
  redemptions:    redemptions
  balance_lock:   one row, bumped by every floor-checked redemption

CONNECTION LIFETIME:
  Nothing is opened by New. The first operation opens the connection,
  pings it and migrates the schema; the handle is then cached for the
  process lifetime. A failed open is not cached, so the next call tries
  again. Every driver error surfaces as ledger.ErrStoreUnavailable and the
  Selector falls back.

BALANCE:
  Total is a live fold: two SUM aggregates, no stored counter.
  AppendRedemptionAbove first bumps the balance_lock row, then folds and
  inserts in the same transaction. The bump takes the row lock on MySQL and
  PostgreSQL and the write lock on SQLite, so floor-checked redemptions from
  any number of processes run one at a time and each sees the ones before
  it. Plain AppendRedemption and the removals do not take the lock.

USAGE:
  store, err := sqldb.New(sqldb.Config{Driver: "mysql", DSN: dsn})
  defer store.Close()
*/
package sqldb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hearth/points-ledger/ledger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects the database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Store implements ledger.Store on gorm.
type Store struct {
	cfg Config

	mu sync.Mutex
	db *gorm.DB
}

// New validates cfg. It does not connect.
func New(cfg Config) (*Store, error) {
	if _, err := dialector(cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqldb: empty DSN for driver %q", cfg.Driver)
	}
	return &Store{cfg: cfg}, nil
}

// Name reports the backend as "sql:<driver>".
func (s *Store) Name() string {
	return "sql:" + s.cfg.Driver
}

// Close closes the connection if one was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	return sqlDB.Close()
}

func dialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", cfg.Driver)
	}
}

// conn returns the cached handle, opening it on first use.
func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.WithContext(ctx), nil
	}

	dial, err := dialector(s.cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, ledger.Unavailable(s.Name(), "open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, ledger.Unavailable(s.Name(), "open", err)
	}
	if s.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, ledger.Unavailable(s.Name(), "ping", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&entryRow{}, &redemptionRow{}, &balanceLock{}); err != nil {
		sqlDB.Close()
		return nil, ledger.Unavailable(s.Name(), "migrate", err)
	}
	seed := balanceLock{ID: balanceLockID}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		sqlDB.Close()
		return nil, ledger.Unavailable(s.Name(), "migrate", err)
	}

	s.db = db
	return db.WithContext(ctx), nil
}

// wrap passes business errors through and marks everything else as
// unavailable. A duplicate id is a caller bug, not an outage.
func (s *Store) wrap(op string, err error) error {
	switch {
	case err == nil, ledger.IsNotFound(err), errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrStoreUnavailable):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %s: %w", s.Name(), op, err)
	}
	return ledger.Unavailable(s.Name(), op, err)
}

// =============================================================================
// ROWS
// =============================================================================

type entryRow struct {
	ID           string    `gorm:"primaryKey;column:id;size:64"`
	Type         string    `gorm:"column:type;size:64"`
	Description  string    `gorm:"column:description;size:512"`
	PointsChange int64     `gorm:"column:points_change"`
	ImageURL     *string   `gorm:"column:image_url;size:1024"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
}

func (entryRow) TableName() string { return "points_history" }

type redemptionRow struct {
	ID         string    `gorm:"primaryKey;column:id;size:64"`
	GiftName   string    `gorm:"column:gift_name;size:255"`
	PointsCost int64     `gorm:"column:points_cost"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

func (redemptionRow) TableName() string { return "redemptions" }

const balanceLockID = 1

// balanceLock is the single row floor-checked redemptions contend on.
type balanceLock struct {
	ID      int   `gorm:"primaryKey;column:id;autoIncrement:false"`
	Version int64 `gorm:"column:version"`
}

func (balanceLock) TableName() string { return "balance_lock" }

// lockBalance bumps the lock row. It blocks until any other transaction
// holding the row commits or rolls back.
func lockBalance(tx *gorm.DB) error {
	res := tx.Model(&balanceLock{}).
		Where("id = ?", balanceLockID).
		UpdateColumn("version", gorm.Expr("version + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("balance_lock row missing")
	}
	return nil
}

func toEntryRow(e ledger.Entry) entryRow {
	return entryRow{
		ID:           string(e.ID),
		Type:         e.Type,
		Description:  e.Description,
		PointsChange: e.PointsChange,
		ImageURL:     e.ImageURL,
		CreatedAt:    e.CreatedAt,
	}
}

func (r entryRow) entry() ledger.Entry {
	return ledger.Entry{
		ID:           ledger.RecordID(r.ID),
		Type:         r.Type,
		Description:  r.Description,
		PointsChange: r.PointsChange,
		ImageURL:     r.ImageURL,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func toRedemptionRow(r ledger.Redemption) redemptionRow {
	return redemptionRow{
		ID:         string(r.ID),
		GiftName:   r.GiftName,
		PointsCost: r.PointsCost,
		CreatedAt:  r.CreatedAt,
	}
}

func (r redemptionRow) redemption() ledger.Redemption {
	return ledger.Redemption{
		ID:         ledger.RecordID(r.ID),
		GiftName:   r.GiftName,
		PointsCost: r.PointsCost,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

// =============================================================================
// ledger.Store
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return ledger.Entry{}, err
	}
	row := toEntryRow(e)
	if err := db.Create(&row).Error; err != nil {
		return ledger.Entry{}, s.wrap("append entry", err)
	}
	return row.entry(), nil
}

func (s *Store) AppendRedemption(ctx context.Context, r ledger.Redemption) (ledger.Redemption, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return ledger.Redemption{}, err
	}
	row := toRedemptionRow(r)
	if err := db.Create(&row).Error; err != nil {
		return ledger.Redemption{}, s.wrap("append redemption", err)
	}
	return row.redemption(), nil
}

// AppendRedemptionAbove takes the balance lock, then folds and inserts in
// the same transaction.
func (s *Store) AppendRedemptionAbove(ctx context.Context, r ledger.Redemption, opening int64) (ledger.Redemption, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return ledger.Redemption{}, err
	}
	row := toRedemptionRow(r)
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := lockBalance(tx); err != nil {
			return err
		}
		sum, err := total(tx)
		if err != nil {
			return err
		}
		if err := ledger.CheckRedemption(opening+sum, r.PointsCost); err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return ledger.Redemption{}, s.wrap("append redemption", err)
	}
	return row.redemption(), nil
}

func (s *Store) ListEntries(ctx context.Context) ([]ledger.Entry, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []entryRow
	if err := db.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, s.wrap("list entries", err)
	}
	out := make([]ledger.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

func (s *Store) ListRedemptions(ctx context.Context) ([]ledger.Redemption, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []redemptionRow
	if err := db.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, s.wrap("list redemptions", err)
	}
	out := make([]ledger.Redemption, len(rows))
	for i, r := range rows {
		out[i] = r.redemption()
	}
	return out, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id ledger.RecordID) (ledger.Entry, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return ledger.Entry{}, err
	}
	var row entryRow
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", string(id)).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ledger.RecordNotFoundError{Collection: ledger.CollectionEntries, ID: id}
			}
			return err
		}
		return tx.Delete(&entryRow{}, "id = ?", string(id)).Error
	})
	if err != nil {
		return ledger.Entry{}, s.wrap("remove entry", err)
	}
	return row.entry(), nil
}

func (s *Store) RemoveRedemption(ctx context.Context, id ledger.RecordID) (ledger.Redemption, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return ledger.Redemption{}, err
	}
	var row redemptionRow
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", string(id)).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ledger.RecordNotFoundError{Collection: ledger.CollectionRedemptions, ID: id}
			}
			return err
		}
		return tx.Delete(&redemptionRow{}, "id = ?", string(id)).Error
	})
	if err != nil {
		return ledger.Redemption{}, s.wrap("remove redemption", err)
	}
	return row.redemption(), nil
}

// Total folds both tables with SUM aggregates.
func (s *Store) Total(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	t, err := total(db)
	if err != nil {
		return 0, s.wrap("total", err)
	}
	return t, nil
}

func total(db *gorm.DB) (int64, error) {
	var earned, spent int64
	if err := db.Model(&entryRow{}).Select("COALESCE(SUM(points_change), 0)").Scan(&earned).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&redemptionRow{}).Select("COALESCE(SUM(points_cost), 0)").Scan(&spent).Error; err != nil {
		return 0, err
	}
	return earned - spent, nil
}
