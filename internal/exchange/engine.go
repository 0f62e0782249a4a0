// Package exchange implements the order-matching and settlement engine: the
// order-book primitives, the price-time-priority matching loop, the
// reserve/commit/cancel protocol against the external bank, and the market
// snapshot queries backed by the candlestick cache.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coincross/exchange/internal/audit"
	"github.com/coincross/exchange/internal/bank"
	"github.com/coincross/exchange/internal/candlestick"
	"github.com/coincross/exchange/internal/metrics"
	"github.com/coincross/exchange/internal/model"
	"github.com/coincross/exchange/internal/store"
)

// Engine coordinates the ledger store, the bank, the audit log, and the
// candlestick cache. All mutating entry points run inside the scheduler's
// single-writer transaction.
type Engine struct {
	store   store.Store
	bank    bank.Bank
	audit   audit.Logger
	candles *candlestick.Cache
	sched   *Scheduler
	guard   *pairGuard
	log     *slog.Logger

	halted atomic.Bool

	// OnTrade is invoked after each committed trade (feed broadcasts).
	OnTrade func(model.Trade)
	// OnBookChange is invoked after any mutation of the open book
	// (snapshot cache invalidation).
	OnBookChange func()
	// OnFatal is invoked once when the engine halts on a settlement
	// failure, after the halt has taken effect.
	OnFatal func(error)
}

// New creates an engine. The candlestick cache is passed in (not created
// here) so its lifecycle — reset and replay at initialization — stays with
// the caller and tests get isolated instances.
func New(st store.Store, bk bank.Bank, al audit.Logger, candles *candlestick.Cache, log *slog.Logger) *Engine {
	return &Engine{
		store:   st,
		bank:    bk,
		audit:   al,
		candles: candles,
		sched:   NewScheduler(st),
		guard:   newPairGuard(),
		log:     log,
	}
}

// Halted reports whether the engine has stopped accepting mutations.
func (e *Engine) Halted() bool { return e.halted.Load() }

// fatal records a settlement failure that may have left the ledger and the
// bank divergent. No compensating transaction exists, so the engine stops
// accepting further mutation instead of continuing with unknown consistency.
func (e *Engine) fatal(err error) {
	first := !e.halted.Swap(true)
	metrics.EngineHalted.Set(1)
	e.log.Error("settlement failure, halting engine", "err", err)
	if first && e.OnFatal != nil {
		e.OnFatal(err)
	}
}

func (e *Engine) bookChanged() {
	if e.OnBookChange != nil {
		e.OnBookChange()
	}
}

// Initialize rebuilds the candlestick cache by replaying the full trade
// history in ascending id order.
func (e *Engine) Initialize(ctx context.Context) error {
	trades, err := e.store.TradesAscending(ctx)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	e.candles.Reset()
	e.candles.Replay(trades)
	e.log.Info("candlestick cache rebuilt", "trades", len(trades))
	return nil
}

// Info is the market snapshot served to clients: the latest trade cursor,
// best prices, chart series, and — for a signed-in user — the orders of
// theirs that traded since the cursor.
type Info struct {
	model.Snapshot
	TradedOrders []model.Order `json:"traded_orders,omitempty"`
}

// Chart windows served when the client has no cursor.
const (
	chartSecSpan  = 300 * time.Second
	chartMinSpan  = 300 * time.Minute
	chartHourSpan = 48 * time.Hour
)

// Info builds the snapshot. userID 0 means anonymous; cursor 0 means no
// prior state on the client.
func (e *Engine) Info(ctx context.Context, userID, cursor int64) (*Info, error) {
	info := &Info{}

	var sinceTrade *model.Trade
	if cursor > 0 {
		t, err := e.store.TradeByID(ctx, cursor)
		if err != nil {
			return nil, err
		}
		sinceTrade = t
	}

	latest, err := e.store.LatestTrade(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		info.Cursor = latest.ID
	}

	if userID != 0 {
		orders, err := e.TradedOrdersSince(ctx, userID, cursor)
		if err != nil {
			return nil, err
		}
		info.TradedOrders = orders
	}

	now := time.Now().UTC()
	info.ChartBySec = e.chart(sinceTrade, now.Add(-chartSecSpan), candlestick.BySecond)
	info.ChartByMin = e.chart(sinceTrade, now.Add(-chartMinSpan), candlestick.ByMinute)
	info.ChartByHour = e.chart(sinceTrade, now.Add(-chartHourSpan), candlestick.ByHour)

	lowest, err := e.store.LowestOpenSell(ctx)
	if err != nil {
		return nil, err
	}
	if lowest != nil {
		info.LowestSellPrice = lowest.Price
	}
	highest, err := e.store.HighestOpenBuy(ctx)
	if err != nil {
		return nil, err
	}
	if highest != nil {
		info.HighestBuyPrice = highest.Price
	}
	return info, nil
}

// chart picks the lower bound for one series: the default window, or the
// cursor trade's bucket when the client has seen trades after it.
func (e *Engine) chart(sinceTrade *model.Trade, fallback time.Time, g candlestick.Granularity) []model.CandlestickData {
	from := fallback
	if sinceTrade != nil && sinceTrade.CreatedAt.After(from) {
		from = sinceTrade.CreatedAt.UTC().Truncate(time.Duration(g))
	}
	return e.candles.Query(from, g)
}

// MarketSnapshot is the anonymous, cursorless Info — the part worth keeping
// in the shared read cache.
func (e *Engine) MarketSnapshot(ctx context.Context) (*model.Snapshot, error) {
	info, err := e.Info(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	return &info.Snapshot, nil
}
