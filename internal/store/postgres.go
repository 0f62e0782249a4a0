package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coincross/exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
	pgQueries
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, pgQueries: pgQueries{q: pool}}
}

// EnsureSchema applies the DDL in Schema. Idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx, pgQueries: pgQueries{q: tx}}, nil
}

// pgTx wraps one pgx transaction. Row locks taken through it are released
// at Commit/Rollback.
type pgTx struct {
	tx pgx.Tx
	pgQueries
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *pgTx) InsertUser(ctx context.Context, name, bankID string) (*model.User, error) {
	u := &model.User{Name: name, BankID: bankID}
	err := t.q.QueryRow(ctx,
		`INSERT INTO users (name, bank_id) VALUES ($1, $2) RETURNING id`,
		name, bankID).Scan(&u.ID)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, typ string, userID, amount, price int64) (*model.Order, error) {
	o := &model.Order{Type: typ, UserID: userID, Amount: amount, Price: price}
	err := t.q.QueryRow(ctx,
		`INSERT INTO orders (type, user_id, amount, price, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING id, created_at`,
		typ, userID, amount, price).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

func (t *pgTx) InsertTrade(ctx context.Context, amount, price int64) (*model.Trade, error) {
	tr := &model.Trade{Amount: amount, Price: price}
	err := t.q.QueryRow(ctx,
		`INSERT INTO trade (amount, price, created_at)
		 VALUES ($1, $2, now())
		 RETURNING id, created_at`,
		amount, price).Scan(&tr.ID, &tr.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	return tr, nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return scanOneOrder(t.q.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UserForUpdate(ctx context.Context, id int64) (*model.User, error) {
	return scanOneUser(t.q.QueryRow(ctx,
		`SELECT id, name, bank_id FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CandidateOrders(ctx context.Context, typ string, price int64, limit int) ([]model.Order, error) {
	// Price priority first: cheapest sells ascending, richest buys
	// descending, creation time and id as tie-breaks in the same direction.
	var query string
	if typ == model.OrderSell {
		query = `SELECT ` + orderCols + ` FROM orders
			 WHERE type = 'sell' AND closed_at IS NULL AND price <= $1
			 ORDER BY price ASC, created_at ASC, id ASC LIMIT $2 FOR UPDATE`
	} else {
		query = `SELECT ` + orderCols + ` FROM orders
			 WHERE type = 'buy' AND closed_at IS NULL AND price >= $1
			 ORDER BY price DESC, created_at DESC, id DESC LIMIT $2 FOR UPDATE`
	}
	rows, err := t.q.Query(ctx, query, price, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (t *pgTx) CloseOrders(ctx context.Context, orderIDs []int64, tradeID int64) error {
	ct, err := t.q.Exec(ctx,
		`UPDATE orders SET trade_id = $1, closed_at = now()
		 WHERE id = ANY($2) AND closed_at IS NULL`,
		tradeID, orderIDs)
	if err != nil {
		return fmt.Errorf("close orders: %w", err)
	}
	if int(ct.RowsAffected()) != len(orderIDs) {
		return fmt.Errorf("close orders: %d of %d rows closed", ct.RowsAffected(), len(orderIDs))
	}
	return nil
}

func (t *pgTx) CloseOrder(ctx context.Context, orderID int64) error {
	_, err := t.q.Exec(ctx,
		`UPDATE orders SET closed_at = now() WHERE id = $1`, orderID)
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so read queries are
// written once.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NULL trade_id comes back as 0; order ids start at 1.
const orderCols = `id, type, user_id, amount, price, closed_at, COALESCE(trade_id, 0), created_at`

type pgQueries struct {
	q querier
}

func (s pgQueries) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanOneUser(s.q.QueryRow(ctx,
		`SELECT id, name, bank_id FROM users WHERE id = $1`, id))
}

func (s pgQueries) UserByBankID(ctx context.Context, bankID string) (*model.User, error) {
	return scanOneUser(s.q.QueryRow(ctx,
		`SELECT id, name, bank_id FROM users WHERE bank_id = $1`, bankID))
}

func (s pgQueries) OrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return scanOneOrder(s.q.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (s pgQueries) LowestOpenSell(ctx context.Context) (*model.Order, error) {
	return scanOneOrder(s.q.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE type = 'sell' AND closed_at IS NULL
		 ORDER BY price ASC, created_at ASC LIMIT 1`))
}

func (s pgQueries) HighestOpenBuy(ctx context.Context) (*model.Order, error) {
	return scanOneOrder(s.q.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE type = 'buy' AND closed_at IS NULL
		 ORDER BY price DESC, created_at ASC LIMIT 1`))
}

func (s pgQueries) OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE user_id = $1 AND (closed_at IS NULL OR trade_id IS NOT NULL)
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s pgQueries) TradedOrdersSince(ctx context.Context, userID, tradeID int64) ([]model.Order, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE user_id = $1 AND trade_id IS NOT NULL AND trade_id > $2
		 ORDER BY created_at ASC`, userID, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s pgQueries) TradeByID(ctx context.Context, id int64) (*model.Trade, error) {
	return scanOneTrade(s.q.QueryRow(ctx,
		`SELECT id, amount, price, created_at FROM trade WHERE id = $1`, id))
}

func (s pgQueries) LatestTrade(ctx context.Context) (*model.Trade, error) {
	return scanOneTrade(s.q.QueryRow(ctx,
		`SELECT id, amount, price, created_at FROM trade ORDER BY id DESC LIMIT 1`))
}

func (s pgQueries) TradesAscending(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, amount, price, created_at FROM trade ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.Amount, &t.Price, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Scan helpers ---

func scanOneUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.BankID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func scanOneOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.Type, &o.UserID, &o.Amount, &o.Price,
		&o.ClosedAt, &o.TradeID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func scanOneTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	if err := row.Scan(&t.ID, &t.Amount, &t.Price, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.Type, &o.UserID, &o.Amount, &o.Price,
			&o.ClosedAt, &o.TradeID, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
