package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coincross/exchange/internal/metrics"
	"github.com/coincross/exchange/internal/model"
	"github.com/coincross/exchange/internal/store"
)

// Matching never splits an order: candidates larger than the remaining
// unmet amount are skipped, so up to candidateFactor × amount rows are
// scanned to find enough exactly-fitting liquidity.
const candidateFactor = 10

// HasTradeChance reports whether the order could cross the current best
// opposite price. Cheap precondition for invoking the full matching loop.
func (e *Engine) HasTradeChance(ctx context.Context, orderID int64) (bool, error) {
	order, err := e.store.OrderByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, model.ErrOrderNotFound
	}
	lowest, err := e.store.LowestOpenSell(ctx)
	if err != nil || lowest == nil {
		return false, err
	}
	highest, err := e.store.HighestOpenBuy(ctx)
	if err != nil || highest == nil {
		return false, err
	}
	switch order.Type {
	case model.OrderBuy:
		return lowest.Price <= order.Price, nil
	case model.OrderSell:
		return order.Price <= highest.Price, nil
	}
	return false, nil
}

// RunTrade drives matching until the book no longer crosses. Each round
// reads the best bid/ask outside any transaction, then runs one matching
// attempt per side inside its own serialized transaction, larger order
// first — the larger side is less likely to fully match, so failing fast on
// it avoids reservation churn on the cheaper side.
func (e *Engine) RunTrade(ctx context.Context) error {
	if e.halted.Load() {
		return model.ErrEngineHalted
	}
	for {
		matched, err := e.runTradeOnce(ctx)
		if err != nil {
			return err
		}
		if !matched {
			return nil
		}
	}
}

func (e *Engine) runTradeOnce(ctx context.Context) (bool, error) {
	lowestSell, err := e.store.LowestOpenSell(ctx)
	if err != nil {
		return false, err
	}
	if lowestSell == nil {
		return false, nil
	}
	highestBuy, err := e.store.HighestOpenBuy(ctx)
	if err != nil {
		return false, err
	}
	if highestBuy == nil {
		return false, nil
	}
	if lowestSell.Price > highestBuy.Price {
		return false, nil
	}

	// Advisory only: a concurrent run already matching this crossed pair
	// makes this one redundant, not incorrect.
	key := pairKey(lowestSell.ID, highestBuy.ID)
	if !e.guard.tryAcquire(key) {
		return false, nil
	}
	defer e.guard.release(key)

	candidates := []int64{lowestSell.ID, highestBuy.ID}
	if highestBuy.Amount > lowestSell.Amount {
		candidates = []int64{highestBuy.ID, lowestSell.ID}
	}

	for _, orderID := range candidates {
		start := time.Now()
		var trade *model.Trade
		err := e.sched.RunInTx(ctx, func(tx store.Tx) error {
			var terr error
			trade, terr = e.tryTrade(ctx, tx, orderID)
			return terr
		}, model.ErrNoOrderForTrade, model.ErrOrderAlreadyClosed, model.ErrCreditInsufficient)
		metrics.MatchLatency.Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			// Feed and cache hooks run only after the transaction is
			// durable.
			if trade != nil {
				if e.OnTrade != nil {
					e.OnTrade(*trade)
				}
				e.bookChanged()
			}
			return true, nil
		case errors.Is(err, model.ErrNoOrderForTrade),
			errors.Is(err, model.ErrOrderAlreadyClosed):
			// This side could not be satisfied; try the other one.
			continue
		default:
			// CreditInsufficient propagates without trying further
			// sides; so does anything unexpected (rolled back).
			return false, err
		}
	}
	return false, nil
}

// tryTrade is one matching attempt for the aggressor order, executed inside
// one serialized transaction. Every reservation taken here is resolved
// before the attempt ends: committed on success, canceled on any other
// exit. A failed cancel or commit after reservation is fatal.
func (e *Engine) tryTrade(ctx context.Context, tx store.Tx, orderID int64) (*model.Trade, error) {
	order, err := e.openOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	restAmount := order.Amount
	unitPrice := order.Price

	rid, err := e.reserveOrder(ctx, tx, order, unitPrice)
	if err != nil {
		return nil, err
	}
	reserves := []int64{rid}
	committed := false
	defer func() {
		if committed || len(reserves) == 0 {
			return
		}
		if cerr := e.bank.Cancel(ctx, reserves); cerr != nil {
			e.fatal(fmt.Errorf("cancel %d reservations: %w", len(reserves), cerr))
			return
		}
		metrics.ReservationsTotal.WithLabelValues("canceled").Add(float64(len(reserves)))
	}()

	targetType := model.OrderSell
	if order.Type == model.OrderSell {
		targetType = model.OrderBuy
	}
	candidates, err := tx.CandidateOrders(ctx, targetType, unitPrice, int(order.Amount)*candidateFactor)
	if err != nil {
		return nil, err
	}

	var targets []*model.Order
	for i := range candidates {
		// Re-load under the lock; the candidate may have closed since
		// the scan. Skip it on any failure and keep accumulating.
		target, err := e.openOrderForUpdate(ctx, tx, candidates[i].ID)
		if err != nil {
			continue
		}
		// Orders are matched whole; an oversized candidate cannot fit.
		if target.Amount > restAmount {
			continue
		}
		rid, err := e.reserveOrder(ctx, tx, target, unitPrice)
		if err != nil {
			// The reservation attempt already canceled and audited the
			// candidate if its credit fell short.
			continue
		}
		reserves = append(reserves, rid)
		targets = append(targets, target)
		restAmount -= target.Amount
		if restAmount == 0 {
			break
		}
	}

	if restAmount > 0 {
		return nil, model.ErrNoOrderForTrade
	}

	trade, err := e.commitReserved(ctx, tx, order, targets, reserves)
	if err != nil {
		// Reservations are in an unknown state past this point; do not
		// cancel them.
		committed = true
		e.fatal(fmt.Errorf("commit reserved trade: %w", err))
		return nil, fmt.Errorf("%w: %v", model.ErrEngineHalted, err)
	}
	committed = true
	return trade, nil
}

// openOrderForUpdate loads the order and its owner under row locks, failing
// if the order is gone or already terminal.
func (e *Engine) openOrderForUpdate(ctx context.Context, tx store.Tx, id int64) (*model.Order, error) {
	order, err := tx.OrderForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, model.ErrOrderNotFound
	}
	if order.ClosedAt != nil {
		return nil, model.ErrOrderAlreadyClosed
	}
	user, err := tx.UserForUpdate(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}
	order.User = user
	return order, nil
}

// reserveOrder places the bank hold for one order at the aggressor's unit
// price. Buys hold a debit (negative), sells a credit (positive). An
// insufficient-credit rejection cancels the order and audits the failure
// before propagating.
func (e *Engine) reserveOrder(ctx context.Context, tx store.Tx, order *model.Order, price int64) (int64, error) {
	total := order.Amount * price
	if order.Type == model.OrderBuy {
		total = -total
	}
	rid, err := e.bank.Reserve(ctx, order.User.BankID, total)
	if err != nil {
		if errors.Is(err, model.ErrCreditInsufficient) {
			metrics.ReservationsTotal.WithLabelValues("insufficient").Inc()
			if cerr := e.cancelOrder(ctx, tx, order, "reserve_failed"); cerr != nil {
				return 0, cerr
			}
			e.audit.Send(order.Type+".error", map[string]any{
				"error":   err.Error(),
				"user_id": order.UserID,
				"amount":  order.Amount,
				"price":   price,
			})
		}
		return 0, err
	}
	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	return rid, nil
}

// commitReserved settles the attempt: trade row, atomic close of all
// participants, bank commit of every hold, candlestick update. The caller
// treats any error from here as fatal.
func (e *Engine) commitReserved(ctx context.Context, tx store.Tx, order *model.Order, targets []*model.Order, reserveIDs []int64) (*model.Trade, error) {
	trade, err := tx.InsertTrade(ctx, order.Amount, order.Price)
	if err != nil {
		return nil, err
	}
	e.audit.Send("trade", map[string]any{
		"trade_id": trade.ID,
		"price":    trade.Price,
		"amount":   trade.Amount,
	})

	all := append(targets, order)
	ids := make([]int64, len(all))
	for i, o := range all {
		ids[i] = o.ID
	}
	if err := tx.CloseOrders(ctx, ids, trade.ID); err != nil {
		return nil, err
	}
	for _, o := range all {
		e.audit.Send(o.Type+".trade", map[string]any{
			"order_id": o.ID,
			"price":    order.Price,
			"amount":   o.Amount,
			"user_id":  o.UserID,
			"trade_id": trade.ID,
		})
	}

	if err := e.bank.Commit(ctx, reserveIDs); err != nil {
		return nil, fmt.Errorf("bank commit: %w", err)
	}
	metrics.ReservationsTotal.WithLabelValues("committed").Add(float64(len(reserveIDs)))
	metrics.TradesTotal.Inc()
	metrics.TradeAmount.Observe(float64(trade.Amount))

	e.candles.Record(trade)
	return trade, nil
}
