// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts accepted orders by kind (buy, sell).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_orders_total",
		Help: "Total number of accepted orders",
	}, []string{"kind"})

	// OrderRejections counts rejected orders by kind and reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_order_rejections_total",
		Help: "Orders rejected before any state change",
	}, []string{"kind", "reason"})

	// OrderLatency tracks engine time per order.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_order_latency_seconds",
		Help:    "Order matching latency in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"kind"})

	// TradesTotal counts fills by origin of the consumed liquidity.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of fills",
	}, []string{"origin"})

	// TradedVolume tracks filled token quantity per symbol and outcome.
	TradedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_traded_volume_total",
		Help: "Cumulative filled quantity in tokens",
	}, []string{"symbol", "outcome"})

	// MintedQuantity tracks quantity placed as minted resting orders.
	MintedQuantity = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_minted_quantity_total",
		Help: "Cumulative quantity rested as minted orders",
	}, []string{"symbol"})

	// Accounts tracks the number of open accounts.
	Accounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_accounts",
		Help: "Number of open accounts",
	})

	// Symbols tracks the number of registered symbols.
	Symbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_symbols",
		Help: "Number of registered symbols",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PublishErrors counts trade/order events that failed to reach Kafka.
	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_publish_errors_total",
		Help: "Events that failed to publish",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
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
// The wrapped writer keeps http.Hijacker so WebSocket upgrades pass through.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the chi route pattern as the path label to avoid
// per-user cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
