package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coincross/exchange/internal/model"
	"github.com/coincross/exchange/internal/store"
)

func openOrder(t *testing.T, s store.Store, typ string, userID, amount, price int64) *model.Order {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	o, err := tx.InsertOrder(ctx, typ, userID, amount, price)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return o
}

func TestTransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	u := s.AddUser("alice", "bk-alice")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	o, err := tx.InsertOrder(ctx, model.OrderBuy, u.ID, 2, 50)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.OrderByID(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderBuy, got.Type)
	assert.True(t, got.Open())

	// A rolled-back transaction leaves no trace, including id allocation.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	dropped, err := tx.InsertOrder(ctx, model.OrderSell, u.ID, 1, 60)
	require.NoError(t, err)
	_, err = tx.InsertTrade(ctx, 1, 60)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	got, err = s.OrderByID(ctx, dropped.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	latest, err := s.LatestTrade(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestBestOpenOrders(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	u := s.AddUser("alice", "bk-alice")

	openOrder(t, s, model.OrderSell, u.ID, 1, 70)
	best := openOrder(t, s, model.OrderSell, u.ID, 1, 55)
	tied := openOrder(t, s, model.OrderSell, u.ID, 1, 55)
	openOrder(t, s, model.OrderBuy, u.ID, 1, 40)
	highest := openOrder(t, s, model.OrderBuy, u.ID, 1, 48)

	lowest, err := s.LowestOpenSell(ctx)
	require.NoError(t, err)
	require.NotNil(t, lowest)
	// Equal prices resolve to the earliest order.
	assert.Equal(t, best.ID, lowest.ID)
	assert.NotEqual(t, tied.ID, lowest.ID)

	hb, err := s.HighestOpenBuy(ctx)
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, highest.ID, hb.ID)

	// Closing the best sell promotes the next one.
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CloseOrder(ctx, best.ID))
	require.NoError(t, tx.Commit(ctx))

	lowest, err = s.LowestOpenSell(ctx)
	require.NoError(t, err)
	assert.Equal(t, tied.ID, lowest.ID)
}

func TestCandidateOrders(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	u := s.AddUser("alice", "bk-alice")

	cheap := openOrder(t, s, model.OrderSell, u.ID, 1, 40)
	mid := openOrder(t, s, model.OrderSell, u.ID, 1, 45)
	atBound := openOrder(t, s, model.OrderSell, u.ID, 1, 50)
	openOrder(t, s, model.OrderSell, u.ID, 1, 51) // above bound, excluded
	openOrder(t, s, model.OrderBuy, u.ID, 1, 50)  // wrong side, excluded

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	got, err := tx.CandidateOrders(ctx, model.OrderSell, 50, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{cheap.ID, mid.ID, atBound.ID}, []int64{got[0].ID, got[1].ID, got[2].ID})

	// Buy candidates rank highest price first.
	gotBuys, err := tx.CandidateOrders(ctx, model.OrderBuy, 45, 10)
	require.NoError(t, err)
	require.Len(t, gotBuys, 1)

	// The limit caps the scan.
	capped, err := tx.CandidateOrders(ctx, model.OrderSell, 50, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
	assert.Equal(t, cheap.ID, capped[0].ID)
}

func TestCloseOrdersAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	u := s.AddUser("alice", "bk-alice")

	a := openOrder(t, s, model.OrderSell, u.ID, 1, 40)
	b := openOrder(t, s, model.OrderBuy, u.ID, 1, 40)

	// Close b first so the batch below contains a non-open order.
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CloseOrder(ctx, b.ID))
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	err = tx.CloseOrders(ctx, []int64{a.ID, b.ID}, 1)
	require.Error(t, err)
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.OrderByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Open(), "order a must stay open after the failed batch")

	// A clean batch stamps the trade id on every row.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	tr, err := tx.InsertTrade(ctx, 1, 40)
	require.NoError(t, err)
	require.NoError(t, tx.CloseOrders(ctx, []int64{a.ID}, tr.ID))
	require.NoError(t, tx.Commit(ctx))

	got, err = s.OrderByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.Equal(t, tr.ID, got.TradeID)
}

func TestUserScopedQueries(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	alice := s.AddUser("alice", "bk-alice")
	bob := s.AddUser("bob", "bk-bob")

	open := openOrder(t, s, model.OrderBuy, alice.ID, 1, 40)
	canceled := openOrder(t, s, model.OrderBuy, alice.ID, 1, 41)
	traded := openOrder(t, s, model.OrderSell, alice.ID, 1, 42)
	openOrder(t, s, model.OrderBuy, bob.ID, 1, 43)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	tr, err := tx.InsertTrade(ctx, 1, 42)
	require.NoError(t, err)
	require.NoError(t, tx.CloseOrders(ctx, []int64{traded.ID}, tr.ID))
	require.NoError(t, tx.CloseOrder(ctx, canceled.ID))
	require.NoError(t, tx.Commit(ctx))

	// Cancellations drop out of the listing; open and traded orders stay.
	orders, err := s.OrdersByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, open.ID, orders[0].ID)
	assert.Equal(t, traded.ID, orders[1].ID)

	since, err := s.TradedOrdersSince(ctx, alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, traded.ID, since[0].ID)

	since, err = s.TradedOrdersSince(ctx, alice.ID, tr.ID)
	require.NoError(t, err)
	assert.Empty(t, since)

	byBank, err := s.UserByBankID(ctx, "bk-bob")
	require.NoError(t, err)
	require.NotNil(t, byBank)
	assert.Equal(t, bob.ID, byBank.ID)
}

func TestTradesAscending(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, price := range []int64{50, 52, 49} {
		_, err := tx.InsertTrade(ctx, 1, price)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))

	trades, err := s.TradesAscending(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	for i := 1; i < len(trades); i++ {
		assert.Less(t, trades[i-1].ID, trades[i].ID)
	}

	latest, err := s.LatestTrade(ctx)
	require.NoError(t, err)
	assert.Equal(t, trades[2].ID, latest.ID)
}
