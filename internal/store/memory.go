package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/coincross/exchange/internal/model"
)

// MemoryStore is an in-memory Store for tests and local development.
// A transaction holds the write lock for its whole lifetime and snapshots
// the maps at Begin, so Rollback is a wholesale restore. That is enough
// here: the transaction scheduler admits one writer at a time anyway.
type MemoryStore struct {
	mu sync.RWMutex

	users  map[int64]model.User
	orders map[int64]model.Order
	trades map[int64]model.Trade

	nextUserID  int64
	nextOrderID int64
	nextTradeID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]model.User),
		orders: make(map[int64]model.Order),
		trades: make(map[int64]model.Trade),
	}
}

// AddUser seeds a user outside any transaction.
func (s *MemoryStore) AddUser(name, bankID string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u := model.User{ID: s.nextUserID, Name: name, BankID: bankID}
	s.users[u.ID] = u
	return &u
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{
		s:         s,
		users:     maps.Clone(s.users),
		orders:    maps.Clone(s.orders),
		trades:    maps.Clone(s.trades),
		nextUser:  s.nextUserID,
		nextOrder: s.nextOrderID,
		nextTrade: s.nextTradeID,
	}, nil
}

func (s *MemoryStore) UserByID(ctx context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userByID(id), nil
}

func (s *MemoryStore) UserByBankID(ctx context.Context, bankID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userByBankID(bankID), nil
}

func (s *MemoryStore) OrderByID(ctx context.Context, id int64) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderByID(id), nil
}

func (s *MemoryStore) LowestOpenSell(ctx context.Context) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bestOpen(model.OrderSell), nil
}

func (s *MemoryStore) HighestOpenBuy(ctx context.Context) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bestOpen(model.OrderBuy), nil
}

func (s *MemoryStore) OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordersByUser(userID), nil
}

func (s *MemoryStore) TradedOrdersSince(ctx context.Context, userID, tradeID int64) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradedOrdersSince(userID, tradeID), nil
}

func (s *MemoryStore) TradeByID(ctx context.Context, id int64) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradeByID(id), nil
}

func (s *MemoryStore) LatestTrade(ctx context.Context) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestTrade(), nil
}

func (s *MemoryStore) TradesAscending(ctx context.Context) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradesAscending(), nil
}

// --- Unlocked query logic, shared with memTx (which owns the write lock) ---

func (s *MemoryStore) userByID(id int64) *model.User {
	if u, ok := s.users[id]; ok {
		return &u
	}
	return nil
}

func (s *MemoryStore) userByBankID(bankID string) *model.User {
	for _, u := range s.users {
		if u.BankID == bankID {
			u := u
			return &u
		}
	}
	return nil
}

func (s *MemoryStore) orderByID(id int64) *model.Order {
	if o, ok := s.orders[id]; ok {
		return &o
	}
	return nil
}

func (s *MemoryStore) bestOpen(typ string) *model.Order {
	var best *model.Order
	for id := range s.orders {
		o := s.orders[id]
		if o.Type != typ || o.ClosedAt != nil {
			continue
		}
		if best == nil || better(typ, &o, best) {
			b := o
			best = &b
		}
	}
	return best
}

// better reports whether a outranks b for its side: lowest price wins for
// sells, highest for buys, earliest creation then lowest id break ties.
func better(typ string, a, b *model.Order) bool {
	if a.Price != b.Price {
		if typ == model.OrderSell {
			return a.Price < b.Price
		}
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *MemoryStore) ordersByUser(userID int64) []model.Order {
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID && (o.ClosedAt == nil || o.TradeID != 0) {
			out = append(out, o)
		}
	}
	sortByCreation(out)
	return out
}

func (s *MemoryStore) tradedOrdersSince(userID, tradeID int64) []model.Order {
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID && o.TradeID > tradeID {
			out = append(out, o)
		}
	}
	sortByCreation(out)
	return out
}

func sortByCreation(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func (s *MemoryStore) tradeByID(id int64) *model.Trade {
	if t, ok := s.trades[id]; ok {
		return &t
	}
	return nil
}

func (s *MemoryStore) latestTrade() *model.Trade {
	var latest *model.Trade
	for id := range s.trades {
		t := s.trades[id]
		if latest == nil || t.ID > latest.ID {
			l := t
			latest = &l
		}
	}
	return latest
}

func (s *MemoryStore) tradesAscending() []model.Trade {
	out := make([]model.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Transaction ---

type memTx struct {
	s    *MemoryStore
	done bool

	// Snapshot taken at Begin, restored on Rollback.
	users     map[int64]model.User
	orders    map[int64]model.Order
	trades    map[int64]model.Trade
	nextUser  int64
	nextOrder int64
	nextTrade int64
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.s.users = t.users
	t.s.orders = t.orders
	t.s.trades = t.trades
	t.s.nextUserID = t.nextUser
	t.s.nextOrderID = t.nextOrder
	t.s.nextTradeID = t.nextTrade
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) InsertUser(ctx context.Context, name, bankID string) (*model.User, error) {
	t.s.nextUserID++
	u := model.User{ID: t.s.nextUserID, Name: name, BankID: bankID}
	t.s.users[u.ID] = u
	return &u, nil
}

func (t *memTx) InsertOrder(ctx context.Context, typ string, userID, amount, price int64) (*model.Order, error) {
	t.s.nextOrderID++
	o := model.Order{
		ID:        t.s.nextOrderID,
		Type:      typ,
		UserID:    userID,
		Amount:    amount,
		Price:     price,
		CreatedAt: time.Now().UTC(),
	}
	t.s.orders[o.ID] = o
	return &o, nil
}

func (t *memTx) InsertTrade(ctx context.Context, amount, price int64) (*model.Trade, error) {
	t.s.nextTradeID++
	tr := model.Trade{
		ID:        t.s.nextTradeID,
		Amount:    amount,
		Price:     price,
		CreatedAt: time.Now().UTC(),
	}
	t.s.trades[tr.ID] = tr
	return &tr, nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return t.s.orderByID(id), nil
}

func (t *memTx) UserForUpdate(ctx context.Context, id int64) (*model.User, error) {
	return t.s.userByID(id), nil
}

func (t *memTx) CandidateOrders(ctx context.Context, typ string, price int64, limit int) ([]model.Order, error) {
	var out []model.Order
	for _, o := range t.s.orders {
		if o.Type != typ || o.ClosedAt != nil {
			continue
		}
		if typ == model.OrderSell && o.Price > price {
			continue
		}
		if typ == model.OrderBuy && o.Price < price {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return better(typ, &out[i], &out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) CloseOrders(ctx context.Context, orderIDs []int64, tradeID int64) error {
	for _, id := range orderIDs {
		o, ok := t.s.orders[id]
		if !ok || o.ClosedAt != nil {
			return fmt.Errorf("close orders: order %d not open", id)
		}
	}
	now := time.Now().UTC()
	for _, id := range orderIDs {
		o := t.s.orders[id]
		o.ClosedAt = &now
		o.TradeID = tradeID
		t.s.orders[id] = o
	}
	return nil
}

func (t *memTx) CloseOrder(ctx context.Context, orderID int64) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return fmt.Errorf("close order: order %d not found", orderID)
	}
	now := time.Now().UTC()
	o.ClosedAt = &now
	t.s.orders[orderID] = o
	return nil
}

// --- Reads inside the transaction reuse the unlocked logic ---

func (t *memTx) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return t.s.userByID(id), nil
}

func (t *memTx) UserByBankID(ctx context.Context, bankID string) (*model.User, error) {
	return t.s.userByBankID(bankID), nil
}

func (t *memTx) OrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return t.s.orderByID(id), nil
}

func (t *memTx) LowestOpenSell(ctx context.Context) (*model.Order, error) {
	return t.s.bestOpen(model.OrderSell), nil
}

func (t *memTx) HighestOpenBuy(ctx context.Context) (*model.Order, error) {
	return t.s.bestOpen(model.OrderBuy), nil
}

func (t *memTx) OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return t.s.ordersByUser(userID), nil
}

func (t *memTx) TradedOrdersSince(ctx context.Context, userID, tradeID int64) ([]model.Order, error) {
	return t.s.tradedOrdersSince(userID, tradeID), nil
}

func (t *memTx) TradeByID(ctx context.Context, id int64) (*model.Trade, error) {
	return t.s.tradeByID(id), nil
}

func (t *memTx) LatestTrade(ctx context.Context) (*model.Trade, error) {
	return t.s.latestTrade(), nil
}

func (t *memTx) TradesAscending(ctx context.Context) ([]model.Trade, error) {
	return t.s.tradesAscending(), nil
}
