// Package api exposes the engine over HTTP for the fronting web layer.
// Authentication and sessions live in that layer; it forwards the
// authenticated user id with each request.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coincross/exchange/internal/exchange"
	"github.com/coincross/exchange/internal/model"
	"github.com/coincross/exchange/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	engine    *exchange.Engine
	snapshots *store.SnapshotCache // optional
	hub       *WSHub               // optional
	log       *slog.Logger
}

// NewServer creates the API server. snapshots and hub may be nil.
func NewServer(engine *exchange.Engine, snapshots *store.SnapshotCache, hub *WSHub, log *slog.Logger) *Server {
	return &Server{engine: engine, snapshots: snapshots, hub: hub, log: log}
}

// Routes mounts all engine endpoints on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/initialize", s.Initialize)
	r.Post("/orders", s.PlaceOrder)
	r.Get("/orders", s.ListOrders)
	r.Delete("/order/{orderID}", s.CancelOrder)
	r.Get("/info", s.Info)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	return r
}

// Initialize handles POST /initialize: rebuilds the candlestick cache from
// the trade history.
func (s *Server) Initialize(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Initialize(r.Context()); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.snapshots != nil {
		s.snapshots.Invalidate(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Amount int64  `json:"amount"`
	Price  int64  `json:"price"`
}

// PlaceOrder handles POST /orders: persists the order, then runs matching
// when the book crosses. Matching failures are logged, not surfaced — the
// order itself was placed.
func (s *Server) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	order, err := s.engine.AddOrder(ctx, req.Type, req.UserID, req.Amount, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrParameterInvalid),
			errors.Is(err, model.ErrCreditInsufficient):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, model.ErrUserNotFound):
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, model.ErrEngineHalted):
			writeError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.log.Error("add order failed", "err", err)
			writeError(w, "failed to place order", http.StatusInternalServerError)
		}
		return
	}

	chance, err := s.engine.HasTradeChance(ctx, order.ID)
	if err != nil {
		s.log.Error("trade chance check failed", "order_id", order.ID, "err", err)
	}
	if chance {
		if err := s.engine.RunTrade(ctx); err != nil {
			s.log.Error("run trade failed", "err", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]int64{"id": order.ID})
}

// CancelOrder handles DELETE /order/{orderID}.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, "invalid order id", http.StatusBadRequest)
		return
	}
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	err = s.engine.DeleteOrder(r.Context(), userID, orderID, "canceled")
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]int64{"id": orderID})
	case errors.Is(err, model.ErrOrderNotFound), errors.Is(err, model.ErrUserNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrOrderAlreadyClosed):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrEngineHalted):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Error("cancel order failed", "order_id", orderID, "err", err)
		writeError(w, "failed to cancel order", http.StatusInternalServerError)
	}
}

// ListOrders handles GET /orders?user_id=.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	orders, err := s.engine.OrdersForUser(r.Context(), userID)
	if err != nil {
		s.log.Error("list orders failed", "user_id", userID, "err", err)
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// Info handles GET /info?cursor=&user_id=. The anonymous cursorless
// snapshot is served from the Redis cache when one is configured.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var cursor int64
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor, _ = strconv.ParseInt(c, 10, 64)
	}
	userID, _ := userIDParam(r)

	if userID == 0 && cursor == 0 && s.snapshots != nil {
		if snap := s.snapshots.Get(ctx); snap != nil {
			writeJSON(w, http.StatusOK, exchange.Info{Snapshot: *snap})
			return
		}
	}

	info, err := s.engine.Info(ctx, userID, cursor)
	if err != nil {
		s.log.Error("info failed", "err", err)
		writeError(w, "failed to build market info", http.StatusInternalServerError)
		return
	}

	if userID == 0 && cursor == 0 && s.snapshots != nil {
		s.snapshots.Set(ctx, &info.Snapshot)
	}
	writeJSON(w, http.StatusOK, info)
}

// InvalidateSnapshots drops the cached market snapshot. Wired to the
// engine's OnBookChange hook.
func (s *Server) InvalidateSnapshots() {
	if s.snapshots != nil {
		s.snapshots.Invalidate(context.Background())
	}
}

func userIDParam(r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("user_id")
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
