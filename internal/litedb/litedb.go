// Package litedb implements store.Store on an embedded SQLite database
// through gorm. The pool is limited to a single connection, so transactions
// run one at a time and stand in for the row locks of the Postgres backend
package litedb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type userRow struct {
	ID           int             `gorm:"primaryKey"`
	Username     string          `gorm:"uniqueIndex;size:50;not null"`
	PasswordHash string          `gorm:"not null"`
	BTCAvailable decimal.Decimal `gorm:"type:text;not null"`
	BTCOnHold    decimal.Decimal `gorm:"type:text;not null"`
	USDAvailable decimal.Decimal `gorm:"type:text;not null"`
	USDOnHold    decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type orderRow struct {
	ID            int             `gorm:"primaryKey"`
	UserID        int             `gorm:"index;not null"`
	Type          string          `gorm:"size:4;not null"`
	Amount        decimal.Decimal `gorm:"type:text;not null"`
	Price         decimal.Decimal `gorm:"type:text;not null"`
	Status        string          `gorm:"size:16;index;not null"`
	Filled        decimal.Decimal `gorm:"type:text;not null"`
	BaseCurrency  string          `gorm:"size:3;not null"`
	QuoteCurrency string          `gorm:"size:3;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (orderRow) TableName() string { return "orders" }

type matchRow struct {
	ID             int  `gorm:"primaryKey"`
	OrderID        int  `gorm:"index;not null"`
	CounterOrderID *int `gorm:"index"`
	TakerID        int  `gorm:"not null"`
	MakerID        *int
	Amount         decimal.Decimal     `gorm:"type:text;not null"`
	Price          decimal.Decimal     `gorm:"type:text;not null"`
	TakerFee       decimal.NullDecimal `gorm:"type:text"`
	MakerFee       decimal.NullDecimal `gorm:"type:text"`
	CreatedAt      time.Time           `gorm:"index"`
	UpdatedAt      time.Time
}

func (matchRow) TableName() string { return "match_records" }

// DB is the embedded store
type DB struct {
	db *gorm.DB
}

var _ store.Store = (*DB)(nil)

// Open opens (and migrates) the database at dsn. Use ":memory:" or a
// "file:name?mode=memory" URI for a throwaway store
func Open(dsn string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if err := gdb.AutoMigrate(&userRow{}, &orderRow{}, &matchRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &DB{db: gdb}, nil
}

// Close releases the connection
func (s *DB) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// InTx runs fn in a gorm transaction and runs after-commit hooks on success.
// fn must not call the non-transactional Store methods: the single
// connection is held by the transaction
func (s *DB) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	t := &tx{}
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		t.db = gtx
		return fn(t)
	})
	if err != nil {
		return err
	}
	t.hooks.Run()
	return nil
}

type tx struct {
	db    *gorm.DB
	hooks store.Hooks
}

func (t *tx) AfterCommit(fn func()) {
	t.hooks.Add(fn)
}

// LockMatching is a no-op: the single connection already serialises transactions
func (t *tx) LockMatching(ctx context.Context) error {
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toUser(r userRow) *models.User {
	return &models.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		BTCAvailable: r.BTCAvailable,
		BTCOnHold:    r.BTCOnHold,
		USDAvailable: r.USDAvailable,
		USDOnHold:    r.USDOnHold,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toOrder(r orderRow) models.Order {
	return models.Order{
		ID:            r.ID,
		UserID:        r.UserID,
		Side:          models.Side(r.Type),
		Amount:        r.Amount,
		Price:         r.Price,
		Status:        models.OrderStatus(r.Status),
		Filled:        r.Filled,
		BaseCurrency:  models.Currency(r.BaseCurrency),
		QuoteCurrency: models.Currency(r.QuoteCurrency),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromOrder(o *models.Order) orderRow {
	return orderRow{
		ID:            o.ID,
		UserID:        o.UserID,
		Type:          string(o.Side),
		Amount:        o.Amount,
		Price:         o.Price,
		Status:        string(o.Status),
		Filled:        o.Filled,
		BaseCurrency:  string(o.BaseCurrency),
		QuoteCurrency: string(o.QuoteCurrency),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func toMatch(r matchRow) models.Match {
	m := models.Match{
		ID:             r.ID,
		OrderID:        r.OrderID,
		CounterOrderID: r.CounterOrderID,
		TakerID:        r.TakerID,
		MakerID:        r.MakerID,
		Amount:         r.Amount,
		Price:          r.Price,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.TakerFee.Valid {
		fee := r.TakerFee.Decimal
		m.TakerFee = &fee
	}
	if r.MakerFee.Valid {
		fee := r.MakerFee.Decimal
		m.MakerFee = &fee
	}
	return m
}

func fromMatch(m *models.Match) matchRow {
	r := matchRow{
		ID:             m.ID,
		OrderID:        m.OrderID,
		CounterOrderID: m.CounterOrderID,
		TakerID:        m.TakerID,
		MakerID:        m.MakerID,
		Amount:         m.Amount,
		Price:          m.Price,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.TakerFee != nil {
		r.TakerFee = decimal.NewNullDecimal(*m.TakerFee)
	}
	if m.MakerFee != nil {
		r.MakerFee = decimal.NewNullDecimal(*m.MakerFee)
	}
	return r
}
