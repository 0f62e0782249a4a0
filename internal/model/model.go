// Package model defines the core domain types shared across the exchange.
// All monetary quantities are integer currency units — amount × price is the
// total value of an order, and the bank wire contract carries signed integers.
package model

import "time"

// Order sides.
const (
	OrderBuy  = "buy"
	OrderSell = "sell"
)

// Order is a row in the orders table: a standing intent to buy or sell a
// fixed amount at a fixed unit price. ClosedAt is nil while the order is
// open; closing is a one-way transition. TradeID is set together with
// ClosedAt, and only when the order was filled by a trade (a cancellation
// sets ClosedAt alone).
type Order struct {
	ID        int64      `json:"id" db:"id"`
	Type      string     `json:"type" db:"type"`
	UserID    int64      `json:"user_id" db:"user_id"`
	Amount    int64      `json:"amount" db:"amount"`
	Price     int64      `json:"price" db:"price"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	TradeID   int64      `json:"trade_id,omitempty" db:"trade_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`

	// Relations, populated on demand. Not persisted with the row.
	User  *User  `json:"user,omitempty"`
	Trade *Trade `json:"trade,omitempty"`
}

// Open reports whether the order is still standing in the book.
func (o *Order) Open() bool { return o.ClosedAt == nil }

// Trade is an executed match between one aggressor order and one or more
// resting orders, all at the aggressor's unit price. Immutable once created.
type Trade struct {
	ID        int64     `json:"id" db:"id"`
	Amount    int64     `json:"amount" db:"amount"`
	Price     int64     `json:"price" db:"price"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User links an exchange account to its external bank account.
type User struct {
	ID     int64  `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	BankID string `json:"bank_id,omitempty" db:"bank_id"`
}

// CandlestickData is one OHLC bucket as served to clients.
type CandlestickData struct {
	Time  time.Time `json:"time"`
	Open  int64     `json:"open"`
	Close int64     `json:"close"`
	High  int64     `json:"high"`
	Low   int64     `json:"low"`
}

// Snapshot is the shared (user-independent) part of the market info
// response: latest trade cursor, best prices, and the three chart series.
type Snapshot struct {
	Cursor          int64             `json:"cursor"`
	LowestSellPrice int64             `json:"lowest_sell_price,omitempty"`
	HighestBuyPrice int64             `json:"highest_buy_price,omitempty"`
	ChartBySec      []CandlestickData `json:"chart_by_sec"`
	ChartByMin      []CandlestickData `json:"chart_by_min"`
	ChartByHour     []CandlestickData `json:"chart_by_hour"`
}
