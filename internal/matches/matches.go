// Package matches owns match records: the settlement tickets that pair an
// order leg with a counter-order
package matches

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/queue"
	"github.com/xtrntr/spotex/internal/store"
)

const (
	// DefaultLatest is the number of records LatestN returns for n <= 0
	DefaultLatest = 10
	// MaxLatest caps LatestN
	MaxLatest = 100
)

// Store creates unresolved match records and serves read projections
type Store struct {
	db   store.Store
	pub  queue.Publisher
	sink notify.Sink
	log  logger.Interface
	now  func() time.Time
}

// New creates a match record Store
func New(db store.Store, pub queue.Publisher, sink notify.Sink, log logger.Interface) *Store {
	return &Store{db: db, pub: pub, sink: sink, log: log, now: time.Now}
}

// CreateUnresolved inserts a leg awaiting a counterparty. Once tx commits the
// owner is notified and, when enqueue is set, the leg is published for a
// matching pass. A failed publish is logged; the sweeper picks the leg up later
func (s *Store) CreateUnresolved(ctx context.Context, tx store.Tx, orderID, takerID int, amount, price decimal.Decimal, enqueue bool) (*models.Match, error) {
	m := &models.Match{
		OrderID: orderID,
		TakerID: takerID,
		Amount:  amount,
		Price:   price,
	}
	if err := tx.InsertMatch(ctx, m); err != nil {
		return nil, err
	}

	created := *m
	tx.AfterCommit(func() {
		s.sink.NotifyMatched(takerID, created)
		if !enqueue {
			return
		}
		if err := s.pub.PublishMatchCreated(ctx, created.ID); err != nil {
			s.log.ErrorContext(ctx, err,
				logger.NewField("action", "enqueue_match"),
				logger.NewField("match_id", created.ID))
		}
	})
	return m, nil
}

// LatestN returns the n most recent match records of any state
func (s *Store) LatestN(ctx context.Context, n int) ([]models.Match, error) {
	return s.db.ListMatches(ctx, clamp(n))
}

// BookSnapshot returns the unresolved legs of open orders, bids by price
// descending and asks by price ascending, each in time order within a price
func (s *Store) BookSnapshot(ctx context.Context) (models.MatchBook, error) {
	entries, err := s.db.ListBook(ctx)
	if err != nil {
		return models.MatchBook{}, err
	}

	book := models.MatchBook{Buy: []models.BookEntry{}, Sell: []models.BookEntry{}}
	for _, e := range entries {
		if e.Side == models.Buy {
			book.Buy = append(book.Buy, e)
		} else {
			book.Sell = append(book.Sell, e)
		}
	}
	sort.SliceStable(book.Buy, func(i, j int) bool { return book.Buy[i].Price.GreaterThan(book.Buy[j].Price) })
	sort.SliceStable(book.Sell, func(i, j int) bool { return book.Sell[i].Price.LessThan(book.Sell[j].Price) })
	return book, nil
}

// Trades returns the n most recent executions
func (s *Store) Trades(ctx context.Context, n int) ([]models.Trade, error) {
	return s.db.ListTrades(ctx, time.Time{}, clamp(n))
}

// MarketStats summarises executions of the last 24 hours
func (s *Store) MarketStats(ctx context.Context) (models.MarketStats, error) {
	trades, err := s.db.ListTrades(ctx, s.now().Add(-24*time.Hour), 0)
	if err != nil {
		return models.MarketStats{}, err
	}
	return Summarise(trades), nil
}

// Summarise computes volume, last, high and low over trades given newest first
func Summarise(trades []models.Trade) models.MarketStats {
	stats := models.MarketStats{
		LastPrice: decimal.Zero,
		BTCVolume: decimal.Zero,
		USDVolume: decimal.Zero,
		High:      decimal.Zero,
		Low:       decimal.Zero,
	}
	for i, t := range trades {
		stats.BTCVolume = stats.BTCVolume.Add(t.Amount)
		stats.USDVolume = stats.USDVolume.Add(models.QuoteValue(t.Amount, t.Price))
		if i == 0 {
			stats.LastPrice = t.Price
			stats.High = t.Price
			stats.Low = t.Price
			continue
		}
		stats.High = decimal.Max(stats.High, t.Price)
		stats.Low = decimal.Min(stats.Low, t.Price)
	}
	return stats
}

func clamp(n int) int {
	if n <= 0 {
		return DefaultLatest
	}
	if n > MaxLatest {
		return MaxLatest
	}
	return n
}
