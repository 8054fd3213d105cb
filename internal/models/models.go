package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/apperror"
)

// Side is the direction of an order
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", apperror.New(apperror.ValidationError, "side must be BUY or SELL")
}

// Opposite returns the side a counter-order must have
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	Active          OrderStatus = "ACTIVE"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Completed       OrderStatus = "COMPLETED"
	Cancelled       OrderStatus = "CANCELLED"
)

// OpenStatuses are the statuses of orders that can still trade
var OpenStatuses = []OrderStatus{Active, PartiallyFilled}

// Currency is one leg of the BTC/USD pair
type Currency string

const (
	BTC Currency = "BTC"
	USD Currency = "USD"
)

// User represents a registered user and their balances
type User struct {
	ID           int             `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	BTCAvailable decimal.Decimal `json:"btcAvailable"`
	BTCOnHold    decimal.Decimal `json:"btcOnHold"`
	USDAvailable decimal.Decimal `json:"usdAvailable"`
	USDOnHold    decimal.Decimal `json:"usdOnHold"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Funds returns pointers to the available and on-hold balances of c
func (u *User) Funds(c Currency) (available, onHold *decimal.Decimal) {
	if c == BTC {
		return &u.BTCAvailable, &u.BTCOnHold
	}
	return &u.USDAvailable, &u.USDOnHold
}

// Order represents a limit order on the BTC/USD pair
type Order struct {
	ID            int             `json:"id"`
	UserID        int             `json:"userId"`
	Side          Side            `json:"type"`
	Amount        decimal.Decimal `json:"amount"` // BTC
	Price         decimal.Decimal `json:"price"`  // USD per BTC
	Status        OrderStatus     `json:"status"`
	Filled        decimal.Decimal `json:"filled"`
	BaseCurrency  Currency        `json:"baseCurrency"`
	QuoteCurrency Currency        `json:"quoteCurrency"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewOrder returns an ACTIVE, unfilled order
func NewOrder(userID int, side Side, amount, price decimal.Decimal) *Order {
	base, quote := CurrenciesFor(side)
	return &Order{
		UserID:        userID,
		Side:          side,
		Amount:        amount,
		Price:         price,
		Status:        Active,
		Filled:        decimal.Zero,
		BaseCurrency:  base,
		QuoteCurrency: quote,
	}
}

// CurrenciesFor derives the stored currency legs of an order. A BUY is
// recorded as base USD / quote BTC, the reverse of the usual BTC/USD
// labelling. Maker selection compares these fields across sides, so the
// convention must stay identical for both
func CurrenciesFor(side Side) (base, quote Currency) {
	if side == Buy {
		return USD, BTC
	}
	return BTC, USD
}

// Remaining is the unfilled amount
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// IsTerminal reports whether the order can no longer change
func (o *Order) IsTerminal() bool {
	return o.Status == Completed || o.Status == Cancelled
}

// ApplyFill adds amount to Filled and moves the status forward:
// COMPLETED once the remainder is dust, PARTIALLY_FILLED otherwise
func (o *Order) ApplyFill(amount decimal.Decimal) error {
	if o.IsTerminal() {
		return apperror.New(apperror.Internal, "fill applied to "+string(o.Status)+" order")
	}
	if !amount.IsPositive() {
		return apperror.New(apperror.Internal, "fill amount must be positive")
	}
	filled := o.Filled.Add(amount)
	if filled.GreaterThan(o.Amount) {
		return apperror.New(apperror.Internal, "fill exceeds order amount")
	}
	o.Filled = filled
	if IsDust(o.Remaining()) {
		o.Status = Completed
	} else if o.Status == Active {
		o.Status = PartiallyFilled
	}
	return nil
}

// Held returns the currency and amount still reserved for the unfilled part
// of the order. For a BUY this is the quote value of the whole order minus the
// quote value of what has been filled, so that the per-fill reservations sum
// exactly to the original reservation
func (o *Order) Held() (Currency, decimal.Decimal) {
	if o.Side == Buy {
		return USD, QuoteValue(o.Amount, o.Price).Sub(QuoteValue(o.Filled, o.Price))
	}
	return BTC, o.Remaining()
}

// Match is one leg of a trade. A leg with a nil CounterOrderID is
// unresolved and waiting for a counterparty
type Match struct {
	ID             int              `json:"id"`
	OrderID        int              `json:"orderId"`
	CounterOrderID *int             `json:"counterOrderId"`
	TakerID        int              `json:"takerId"`
	MakerID        *int             `json:"makerId"`
	Amount         decimal.Decimal  `json:"amount"`
	Price          decimal.Decimal  `json:"price"`
	TakerFee       *decimal.Decimal `json:"takerFee"`
	MakerFee       *decimal.Decimal `json:"makerFee"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Resolved reports whether the leg has been paired with a counter-order
func (m *Match) Resolved() bool {
	return m.CounterOrderID != nil
}

// IsTakerLeg reports whether the leg was resolved as the aggressor side of a trade
func (m *Match) IsTakerLeg() bool {
	return m.Resolved() && m.TakerFee != nil
}

// MatchCandidate is an unresolved leg together with its order
type MatchCandidate struct {
	Match Match
	Order Order
}
