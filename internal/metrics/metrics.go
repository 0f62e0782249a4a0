// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts orders placed, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_total",
		Help: "Total number of orders placed",
	}, []string{"type"})

	// OrderCancelsTotal counts orders closed without a trade.
	OrderCancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_order_cancels_total",
		Help: "Total number of orders canceled",
	}, []string{"reason"})

	// TradesTotal counts committed trades.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of trades committed",
	})

	// TradeAmount observes the filled quantity per trade.
	TradeAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_trade_amount",
		Help:    "Filled quantity per committed trade",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// MatchLatency observes the duration of one matching attempt.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_match_latency_seconds",
		Help:    "Duration of one matching attempt",
		Buckets: prometheus.DefBuckets,
	})

	// ReservationsTotal counts bank reservation outcomes.
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_bank_reservations_total",
		Help: "Bank reservation outcomes",
	}, []string{"result"})

	// TxQueueWait observes time spent queued for the write-transaction slot.
	TxQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_tx_queue_wait_seconds",
		Help:    "Time spent waiting for the single-writer transaction slot",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	})

	// TxInFlight is 1 while a write transaction is open.
	TxInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_tx_in_flight",
		Help: "Whether a write transaction is currently open",
	})

	// EngineHalted is set to 1 when the engine stops accepting mutations
	// after a bank settlement failure.
	EngineHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_engine_halted",
		Help: "1 when the engine has halted on a settlement failure",
	})

	// WebSocketClients tracks connected trade-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
