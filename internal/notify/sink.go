// Package notify pushes order, match and balance events to connected users
package notify

import (
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
)

// Event names sent to clients
const (
	EventOrderCreated   = "orderCreated"
	EventOrderMatched   = "orderMatched"
	EventOrderCancelled = "orderCancelled"
	EventBalanceUpdated = "balanceUpdated"
)

// Balance is the pushed state of one currency
type Balance struct {
	Currency  models.Currency `json:"currency"`
	Available decimal.Decimal `json:"available"`
	OnHold    decimal.Decimal `json:"onHold"`
}

// BalanceOf extracts the balance of currency from u
func BalanceOf(u *models.User, currency models.Currency) Balance {
	available, onHold := u.Funds(currency)
	return Balance{Currency: currency, Available: *available, OnHold: *onHold}
}

// Sink receives events after the transaction producing them has committed.
// Delivery is best effort: a user without a session is silently skipped
type Sink interface {
	NotifyOrderCreated(userID int, order models.Order)
	NotifyMatched(userID int, match models.Match)
	NotifyOrderCancelled(userID int, orderID int)
	NotifyBalanceChanged(userID int, currency models.Currency, balance Balance)
}

// NotifyBalances pushes both currency balances of u
func NotifyBalances(s Sink, u *models.User) {
	s.NotifyBalanceChanged(u.ID, models.BTC, BalanceOf(u, models.BTC))
	s.NotifyBalanceChanged(u.ID, models.USD, BalanceOf(u, models.USD))
}

// Nop discards every event
type Nop struct{}

func (Nop) NotifyOrderCreated(int, models.Order)               {}
func (Nop) NotifyMatched(int, models.Match)                    {}
func (Nop) NotifyOrderCancelled(int, int)                      {}
func (Nop) NotifyBalanceChanged(int, models.Currency, Balance) {}
