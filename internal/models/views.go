package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookEntry is an unresolved leg joined with its order and owner, for display
type BookEntry struct {
	MatchID     int             `json:"matchId"`
	OrderID     int             `json:"orderId"`
	Side        Side            `json:"type"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	OrderAmount decimal.Decimal `json:"orderAmount"`
	OrderStatus OrderStatus     `json:"orderStatus"`
	Username    string          `json:"user"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// MatchBook groups unresolved legs: bids by price descending, asks ascending
type MatchBook struct {
	Buy  []BookEntry `json:"buy"`
	Sell []BookEntry `json:"sell"`
}

// PriceLevel is the open quantity resting at one price
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Orders int             `json:"orders"`
}

// OrderBook aggregates open orders by price
type OrderBook struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Trade is a public record of one execution
type Trade struct {
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	Side       Side            `json:"type"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// MarketStats summarises the last 24 hours of trading
type MarketStats struct {
	LastPrice decimal.Decimal `json:"lastPrice"`
	BTCVolume decimal.Decimal `json:"btcVolume"`
	USDVolume decimal.Decimal `json:"usdVolume"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
}

// UserStats is the balance summary shown to a user
type UserStats struct {
	BTCAvailable decimal.Decimal `json:"btcBalance"`
	BTCOnHold    decimal.Decimal `json:"btcOnHold"`
	USDAvailable decimal.Decimal `json:"usdBalance"`
	USDOnHold    decimal.Decimal `json:"usdOnHold"`
	OpenOrders   int             `json:"openOrders"`
}
