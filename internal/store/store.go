// Package store provides persistence for orders, trades, and users.
// PostgreSQL is the source of truth; the in-memory implementation backs
// tests and local development. Lookups that find nothing return (nil, nil) —
// domain errors are minted by the callers that know what absence means.
package store

import (
	"context"

	"github.com/coincross/exchange/internal/model"
)

// Queries are the read operations available both on the bare store and
// inside an open transaction.
type Queries interface {
	// UserByID returns the user, or nil if unknown.
	UserByID(ctx context.Context, id int64) (*model.User, error)

	// UserByBankID returns the user holding the given bank account, or nil.
	UserByBankID(ctx context.Context, bankID string) (*model.User, error)

	// OrderByID returns the order, or nil if unknown.
	OrderByID(ctx context.Context, id int64) (*model.Order, error)

	// LowestOpenSell returns the best-priced open sell order, ties broken
	// by earliest creation time. Nil if no sell order is open.
	LowestOpenSell(ctx context.Context) (*model.Order, error)

	// HighestOpenBuy returns the best-priced open buy order, ties broken
	// by earliest creation time. Nil if no buy order is open.
	HighestOpenBuy(ctx context.Context) (*model.Order, error)

	// OrdersByUser returns the user's open orders plus those closed by a
	// trade (cancellations drop out), ascending by creation time.
	OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)

	// TradedOrdersSince returns the user's orders filled by a trade with
	// id greater than the cursor, ascending by creation time.
	TradedOrdersSince(ctx context.Context, userID, tradeID int64) ([]model.Order, error)

	// TradeByID returns the trade, or nil if unknown.
	TradeByID(ctx context.Context, id int64) (*model.Trade, error)

	// LatestTrade returns the trade with the highest id, or nil.
	LatestTrade(ctx context.Context) (*model.Trade, error)

	// TradesAscending returns every trade ordered by ascending id. Used to
	// rebuild the candlestick cache at startup.
	TradesAscending(ctx context.Context) ([]model.Trade, error)
}

// Tx is one write transaction. Row-level locks taken by the *ForUpdate and
// CandidateOrders calls are scoped to it. Exactly one of Commit or Rollback
// must be called.
type Tx interface {
	Queries

	// InsertUser persists a new user and returns it with the assigned id.
	InsertUser(ctx context.Context, name, bankID string) (*model.User, error)

	// InsertOrder persists a new open order and returns it with the
	// assigned id and creation time.
	InsertOrder(ctx context.Context, typ string, userID, amount, price int64) (*model.Order, error)

	// InsertTrade persists a new trade and returns it with the assigned id
	// and creation time.
	InsertTrade(ctx context.Context, amount, price int64) (*model.Trade, error)

	// OrderForUpdate loads an order under a row lock. Nil if not found.
	OrderForUpdate(ctx context.Context, id int64) (*model.Order, error)

	// UserForUpdate loads a user under a row lock. Nil if not found.
	UserForUpdate(ctx context.Context, id int64) (*model.User, error)

	// CandidateOrders returns open orders of the given side that cross the
	// price bound (sells priced at or under it, buys at or over it),
	// ordered by price priority then creation time then id, capped at
	// limit rows, all under row locks.
	CandidateOrders(ctx context.Context, typ string, price int64, limit int) ([]model.Order, error)

	// CloseOrders atomically stamps every listed order with the trade id
	// and a closing time. Fails without effect unless all rows matched.
	CloseOrders(ctx context.Context, orderIDs []int64, tradeID int64) error

	// CloseOrder stamps a closing time with no trade id (cancellation).
	CloseOrder(ctx context.Context, orderID int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence interface handed to the engine.
type Store interface {
	Queries

	// Begin opens a write transaction. The transaction scheduler ensures
	// at most one is in flight per process.
	Begin(ctx context.Context) (Tx, error)
}
