// Package orders owns the order lifecycle: creation with a funds
// reservation, cancellation with release, and read projections
package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/ledger"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/matches"
	"github.com/xtrntr/spotex/internal/metrics"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/notify"
	"github.com/xtrntr/spotex/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Service creates and cancels orders
type Service struct {
	db      store.Store
	ledger  *ledger.Ledger
	matches *matches.Store
	sink    notify.Sink
	metrics *metrics.Metrics
	log     logger.Interface
}

// NewService wires the order service. m may be nil
func NewService(db store.Store, l *ledger.Ledger, ms *matches.Store, sink notify.Sink, m *metrics.Metrics, log logger.Interface) *Service {
	return &Service{db: db, ledger: l, matches: ms, sink: sink, metrics: m, log: log}
}

// Create validates the order, reserves funds and records the order together
// with its first unresolved match record, which is queued for matching
func (s *Service) Create(ctx context.Context, ownerID int, side models.Side, amount, price decimal.Decimal) (*models.Order, error) {
	if side != models.Buy && side != models.Sell {
		return nil, apperror.New(apperror.ValidationError, "side must be BUY or SELL")
	}
	if err := models.ValidateOrder(amount, price); err != nil {
		return nil, err
	}
	if !models.QuoteValue(amount, price).IsPositive() {
		return nil, apperror.New(apperror.ValidationError, "order value must be at least 0.01 USD")
	}

	// fast fail outside the transaction; Reserve re-checks under the lock
	owner, err := s.db.GetUser(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.New(apperror.UserNotFound, fmt.Sprintf("user %d not found", ownerID))
		}
		return nil, err
	}
	if !ledger.CheckAvailable(owner, side, amount, price) {
		return nil, apperror.New(apperror.InsufficientBalance, "insufficient balance")
	}

	var order *models.Order
	err = s.db.InTx(ctx, func(tx store.Tx) error {
		u, err := s.ledger.Reserve(ctx, tx, ownerID, side, amount, price)
		if err != nil {
			return err
		}

		order = models.NewOrder(ownerID, side, amount, price)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		created, balances := *order, *u
		tx.AfterCommit(func() {
			s.metrics.OrderCreated(side)
			s.sink.NotifyOrderCreated(ownerID, created)
			notify.NotifyBalances(s.sink, &balances)
		})

		_, err = s.matches.CreateUnresolved(ctx, tx, order.ID, ownerID, amount, price, true)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order created",
		logger.NewField("order_id", order.ID),
		logger.NewField("user_id", ownerID),
		logger.NewField("side", side),
		logger.NewField("amount", amount.String()),
		logger.NewField("price", price.String()))
	return order, nil
}

// Cancel releases what is still reserved for the order, marks it CANCELLED
// and removes its unresolved match record. Cancelling a COMPLETED or
// CANCELLED order is a no-op that returns the order unchanged.
//
// Cancel holds the matching lock for its whole transaction, so no matching
// pass can add or resolve a leg of the order in between
func (s *Service) Cancel(ctx context.Context, ownerID, orderID int) (*models.Order, error) {
	var order *models.Order
	err := s.db.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockMatching(ctx); err != nil {
			return err
		}
		if _, err := tx.LockUnresolved(ctx, orderID); err != nil {
			return err
		}

		o, err := tx.LockUserOrder(ctx, ownerID, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperror.New(apperror.OrderNotFound, fmt.Sprintf("order %d not found", orderID))
			}
			return err
		}
		order = o
		if o.IsTerminal() {
			return nil
		}

		currency, held := o.Held()
		u, err := s.ledger.ReleaseFunds(ctx, tx, ownerID, currency, held)
		if err != nil {
			return err
		}

		o.Status = models.Cancelled
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		if _, err := tx.DeleteUnresolved(ctx, o.ID); err != nil {
			return err
		}

		balances := *u
		tx.AfterCommit(func() {
			s.metrics.OrderCancelled()
			s.sink.NotifyOrderCancelled(ownerID, orderID)
			notify.NotifyBalances(s.sink, &balances)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order cancel handled",
		logger.NewField("order_id", orderID),
		logger.NewField("user_id", ownerID),
		logger.NewField("status", order.Status))
	return order, nil
}

// Active returns the user's ACTIVE and PARTIALLY_FILLED orders, newest first
func (s *Service) Active(ctx context.Context, userID int) ([]models.Order, error) {
	return s.db.ListOrders(ctx, store.OrderFilter{UserID: userID, Statuses: models.OpenStatuses})
}

// History returns all of the user's orders, newest first
func (s *Service) History(ctx context.Context, userID, limit, offset int) ([]models.Order, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.db.ListOrders(ctx, store.OrderFilter{UserID: userID, Limit: limit, Offset: offset})
}

// Book aggregates the remaining amount of open orders by price level
func (s *Service) Book(ctx context.Context) (models.OrderBook, error) {
	open, err := s.db.ListOrders(ctx, store.OrderFilter{Statuses: models.OpenStatuses})
	if err != nil {
		return models.OrderBook{}, err
	}
	return Aggregate(open), nil
}

// Aggregate groups orders into price levels: bids highest first, asks lowest first
func Aggregate(open []models.Order) models.OrderBook {
	bids := map[string]*models.PriceLevel{}
	asks := map[string]*models.PriceLevel{}
	for _, o := range open {
		levels := asks
		if o.Side == models.Buy {
			levels = bids
		}
		k := o.Price.String()
		lvl, ok := levels[k]
		if !ok {
			lvl = &models.PriceLevel{Price: o.Price, Amount: decimal.Zero}
			levels[k] = lvl
		}
		lvl.Amount = lvl.Amount.Add(o.Remaining())
		lvl.Orders++
	}

	book := models.OrderBook{Bids: flatten(bids), Asks: flatten(asks)}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	return book
}

func flatten(levels map[string]*models.PriceLevel) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	return out
}

// UserStats returns the user's balances and number of open orders
func (s *Service) UserStats(ctx context.Context, userID int) (models.UserStats, error) {
	u, err := s.db.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.UserStats{}, apperror.New(apperror.UserNotFound, fmt.Sprintf("user %d not found", userID))
		}
		return models.UserStats{}, err
	}
	open, err := s.Active(ctx, userID)
	if err != nil {
		return models.UserStats{}, err
	}
	return models.UserStats{
		BTCAvailable: u.BTCAvailable,
		BTCOnHold:    u.BTCOnHold,
		USDAvailable: u.USDAvailable,
		USDOnHold:    u.USDOnHold,
		OpenOrders:   len(open),
	}, nil
}
