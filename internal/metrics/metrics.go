// Package metrics provides Prometheus instrumentation for the exchange core.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced counts accepted orders, partitioned by side.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_orders_placed_total",
		Help: "Total number of accepted orders",
	}, []string{"side"})

	// OperationsRejected counts rejected mutations by operation and error kind.
	OperationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_operations_rejected_total",
		Help: "Mutations rejected before commit",
	}, []string{"op", "kind"})

	// TradesTotal counts fills, partitioned by taker side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_trades_total",
		Help: "Total number of trades executed",
	}, []string{"taker_side"})

	// TradedVolume tracks cumulative claims traded per event.
	TradedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_traded_volume_total",
		Help: "Cumulative traded claims",
	}, []string{"event_id"})

	// FeesCollected tracks fees credited to fee accounts per token.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_fees_collected_total",
		Help: "Cumulative trading fees collected",
	}, []string{"token"})

	// Settlements counts settled events.
	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_settlements_total",
		Help: "Events settled",
	})

	// ActiveMarkets tracks the number of markets open for trading.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_active_markets",
		Help: "Number of currently active markets",
	})

	// PodHalted is 1 once the pod has stopped accepting mutations.
	PodHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_pod_halted",
		Help: "1 if the pod halted on a fatal condition",
	})

	// OperationLatency tracks commit latency (apply, journal, audit) per operation.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_operation_latency_seconds",
		Help:    "Mutation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// NotificationsDropped counts notifications a full sink buffer discarded.
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_notifications_dropped_total",
		Help: "Notifications dropped because a sink was full",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
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

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
