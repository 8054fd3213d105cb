// Package ledger owns user balances. Every mutating operation runs inside a
// caller-supplied transaction and locks the user rows it touches
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
)

// Ledger moves funds between the available and on-hold balances of users
type Ledger struct {
	log logger.Interface
}

// New creates a Ledger
func New(log logger.Interface) *Ledger {
	return &Ledger{log: log}
}

// Required returns the currency and amount an order of the given side needs
// reserved: USD quote value for a BUY, BTC amount for a SELL
func Required(side models.Side, amount, price decimal.Decimal) (models.Currency, decimal.Decimal) {
	if side == models.Buy {
		return models.USD, models.QuoteValue(amount, price)
	}
	return models.BTC, amount
}

// CheckAvailable reports whether u could reserve funds for the order. It does
// not lock anything and is only a fast pre-check
func CheckAvailable(u *models.User, side models.Side, amount, price decimal.Decimal) bool {
	currency, required := Required(side, amount, price)
	available, _ := u.Funds(currency)
	return available.GreaterThanOrEqual(required)
}

// Reserve locks the user, re-checks the balance and moves the required funds
// from available to on-hold
func (l *Ledger) Reserve(ctx context.Context, tx store.Tx, userID int, side models.Side, amount, price decimal.Decimal) (*models.User, error) {
	u, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !CheckAvailable(u, side, amount, price) {
		return nil, apperror.New(apperror.InsufficientBalance, "insufficient balance")
	}

	currency, required := Required(side, amount, price)
	available, onHold := u.Funds(currency)
	*available = available.Sub(required)
	*onHold = onHold.Add(required)

	if err := tx.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Release moves the funds an order of the given side and size would have
// reserved back to available, clamped to what is actually on hold
func (l *Ledger) Release(ctx context.Context, tx store.Tx, userID int, side models.Side, amount, price decimal.Decimal) (*models.User, error) {
	currency, required := Required(side, amount, price)
	return l.ReleaseFunds(ctx, tx, userID, currency, required)
}

// ReleaseFunds moves min(onHold, amount) of currency back to available
func (l *Ledger) ReleaseFunds(ctx context.Context, tx store.Tx, userID int, currency models.Currency, amount decimal.Decimal) (*models.User, error) {
	u, err := lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return u, nil
	}

	available, onHold := u.Funds(currency)
	released := decimal.Min(*onHold, amount)
	if released.LessThan(amount) {
		l.log.WarnContext(ctx, "release clamped to on-hold balance",
			logger.NewField("user_id", userID),
			logger.NewField("currency", currency),
			logger.NewField("requested", amount.String()),
			logger.NewField("released", released.String()))
	}
	*onHold = onHold.Sub(released)
	*available = available.Add(released)

	if err := tx.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Settlement describes one trade between two users
type Settlement struct {
	TakerID int
	MakerID int
	// Side is the taker's side
	Side   models.Side
	Amount decimal.Decimal
	Price  decimal.Decimal
	// BuyerReserved is the part of the buyer's USD reservation this trade
	// consumes. The difference to the quote value (price improvement or cent
	// rounding) is settled against the buyer's available USD
	BuyerReserved decimal.Decimal
}

// Settle transfers funds for a trade: the buyer's USD on-hold pays the seller
// and the seller's BTC on-hold goes to the buyer. Both rows are locked in
// ascending id order. It returns the updated taker and maker
func (l *Ledger) Settle(ctx context.Context, tx store.Tx, s Settlement) (taker, maker *models.User, err error) {
	if s.TakerID == s.MakerID {
		return nil, nil, apperror.New(apperror.Internal, "cannot settle a trade with oneself")
	}

	first, second := s.TakerID, s.MakerID
	if second < first {
		first, second = second, first
	}
	a, err := lockUser(ctx, tx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := lockUser(ctx, tx, second)
	if err != nil {
		return nil, nil, err
	}
	taker, maker = a, b
	if a.ID != s.TakerID {
		taker, maker = b, a
	}

	buyer, seller := taker, maker
	if s.Side == models.Sell {
		buyer, seller = maker, taker
	}

	quote := models.QuoteValue(s.Amount, s.Price)
	if err := l.debitHold(ctx, buyer, models.USD, s.BuyerReserved); err != nil {
		return nil, nil, err
	}
	if err := adjust(buyer, models.USD, s.BuyerReserved.Sub(quote)); err != nil {
		return nil, nil, err
	}
	if err := l.debitHold(ctx, seller, models.BTC, s.Amount); err != nil {
		return nil, nil, err
	}
	credit(buyer, models.BTC, s.Amount)
	credit(seller, models.USD, quote)

	if err := tx.SaveUser(ctx, taker); err != nil {
		return nil, nil, err
	}
	if err := tx.SaveUser(ctx, maker); err != nil {
		return nil, nil, err
	}
	return taker, maker, nil
}

// debitHold takes amount from the on-hold balance. A shortfall left by cent
// rounding is taken from available; anything beyond that is an error
func (l *Ledger) debitHold(ctx context.Context, u *models.User, currency models.Currency, amount decimal.Decimal) error {
	available, onHold := u.Funds(currency)
	if onHold.GreaterThanOrEqual(amount) {
		*onHold = onHold.Sub(amount)
		return nil
	}

	shortfall := amount.Sub(*onHold)
	if available.LessThan(shortfall) {
		return apperror.New(apperror.InsufficientBalance,
			fmt.Sprintf("user %d has %s %s on hold, %s required", u.ID, onHold.String(), currency, amount.String()))
	}
	l.log.WarnContext(ctx, "on-hold shortfall taken from available",
		logger.NewField("user_id", u.ID),
		logger.NewField("currency", currency),
		logger.NewField("shortfall", shortfall.String()))
	*onHold = decimal.Zero
	*available = available.Sub(shortfall)
	return nil
}

// adjust adds delta, which may be negative, to the available balance
func adjust(u *models.User, currency models.Currency, delta decimal.Decimal) error {
	available, _ := u.Funds(currency)
	if available.Add(delta).IsNegative() {
		return apperror.New(apperror.InsufficientBalance,
			fmt.Sprintf("user %d has %s %s available, %s required", u.ID, available.String(), currency, delta.Neg().String()))
	}
	*available = available.Add(delta)
	return nil
}

func credit(u *models.User, currency models.Currency, amount decimal.Decimal) {
	available, _ := u.Funds(currency)
	*available = available.Add(amount)
}

func lockUser(ctx context.Context, tx store.Tx, userID int) (*models.User, error) {
	u, err := tx.LockUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.New(apperror.UserNotFound, fmt.Sprintf("user %d not found", userID))
		}
		return nil, err
	}
	return u, nil
}
