package exchange

import (
	"context"
	"fmt"

	"github.com/coincross/exchange/internal/metrics"
	"github.com/coincross/exchange/internal/model"
	"github.com/coincross/exchange/internal/store"
)

// AddOrder validates and persists a new order. A buy is first checked
// against the owner's bank balance for amount×price; a failed check is
// audited and surfaces as ErrCreditInsufficient with nothing persisted.
func (e *Engine) AddOrder(ctx context.Context, typ string, userID, amount, price int64) (*model.Order, error) {
	if e.halted.Load() {
		return nil, model.ErrEngineHalted
	}
	if typ != model.OrderBuy && typ != model.OrderSell {
		return nil, fmt.Errorf("%w: order type %q", model.ErrParameterInvalid, typ)
	}
	if amount <= 0 || price <= 0 {
		return nil, fmt.Errorf("%w: amount and price must be positive", model.ErrParameterInvalid)
	}

	var order *model.Order
	err := e.sched.RunInTx(ctx, func(tx store.Tx) error {
		user, err := tx.UserByID(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return model.ErrUserNotFound
		}

		if typ == model.OrderBuy {
			total := amount * price
			if cerr := e.bank.Check(ctx, user.BankID, total); cerr != nil {
				e.audit.Send("buy.error", map[string]any{
					"error":   cerr.Error(),
					"user_id": userID,
					"amount":  amount,
					"price":   price,
				})
				return model.ErrCreditInsufficient
			}
		}

		order, err = tx.InsertOrder(ctx, typ, userID, amount, price)
		if err != nil {
			return err
		}
		e.audit.Send(typ+".order", map[string]any{
			"order_id": order.ID,
			"user_id":  userID,
			"amount":   amount,
			"price":    price,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(typ).Inc()
	e.bookChanged()
	return order, nil
}

// DeleteOrder cancels one of the user's own open orders.
func (e *Engine) DeleteOrder(ctx context.Context, userID, orderID int64, reason string) error {
	if e.halted.Load() {
		return model.ErrEngineHalted
	}
	err := e.sched.RunInTx(ctx, func(tx store.Tx) error {
		order, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		user, err := tx.UserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return model.ErrUserNotFound
		}
		if order == nil || order.UserID != user.ID {
			return model.ErrOrderNotFound
		}
		if order.ClosedAt != nil {
			return model.ErrOrderAlreadyClosed
		}
		order.User = user
		return e.cancelOrder(ctx, tx, order, reason)
	})
	if err != nil {
		return err
	}
	e.bookChanged()
	return nil
}

// cancelOrder closes an order with no trade id. The closed state is
// re-checked under the row lock to guard races with the matching loop.
func (e *Engine) cancelOrder(ctx context.Context, tx store.Tx, order *model.Order, reason string) error {
	cur, err := tx.OrderForUpdate(ctx, order.ID)
	if err != nil {
		return err
	}
	if cur != nil && cur.ClosedAt != nil {
		return model.ErrOrderAlreadyClosed
	}
	if err := tx.CloseOrder(ctx, order.ID); err != nil {
		return err
	}
	e.audit.Send(order.Type+".delete", map[string]any{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"reason":   reason,
	})
	metrics.OrderCancelsTotal.WithLabelValues(reason).Inc()
	return nil
}

// OrdersForUser lists the user's open and traded orders with their trade
// relations attached.
func (e *Engine) OrdersForUser(ctx context.Context, userID int64) ([]model.Order, error) {
	orders, err := e.store.OrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.attachRelations(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// TradedOrdersSince lists the user's orders filled by trades newer than the
// cursor, relations attached.
func (e *Engine) TradedOrdersSince(ctx context.Context, userID, tradeID int64) ([]model.Order, error) {
	orders, err := e.store.TradedOrdersSince(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}
	if err := e.attachRelations(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (e *Engine) attachRelations(ctx context.Context, orders []model.Order) error {
	for i := range orders {
		o := &orders[i]
		user, err := e.store.UserByID(ctx, o.UserID)
		if err != nil {
			return err
		}
		o.User = user
		if o.TradeID != 0 {
			trade, err := e.store.TradeByID(ctx, o.TradeID)
			if err != nil {
				return err
			}
			if trade == nil {
				e.log.Error("order references missing trade", "order_id", o.ID, "trade_id", o.TradeID)
			}
			o.Trade = trade
		}
	}
	return nil
}
