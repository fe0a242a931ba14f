// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// DistributionsTotal counts distribution attempts by outcome
	// (ok, already_distributed, no_participants, invalid_state, error).
	DistributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gestasso_distributions_total",
		Help: "Total number of event distributions attempted",
	}, []string{"outcome"})

	// DistributionLatency observes the duration of a distribution unit of work.
	DistributionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gestasso_distribution_latency_seconds",
		Help:    "Event distribution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// DistributedAmount tracks cumulative amounts paid out, by destination
	// (participants, treasury). Approximate: exported as float.
	DistributedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gestasso_distributed_amount_total",
		Help: "Cumulative amount distributed by events",
	}, []string{"destination"})

	// LedgerOperationsTotal counts balance mutations by ledger, kind and direction.
	LedgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gestasso_ledger_operations_total",
		Help: "Total number of ledger balance mutations",
	}, []string{"ledger", "kind", "direction"})

	// InsufficientFundsRejections counts debits refused for lack of funds.
	InsufficientFundsRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gestasso_insufficient_funds_rejections_total",
		Help: "Debits rejected because the balance was too low",
	}, []string{"ledger"})

	// ReconciliationFailures counts balances that disagree with their log.
	ReconciliationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gestasso_reconciliation_failures_total",
		Help: "Balances found inconsistent with their transaction log",
	}, []string{"ledger"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gestasso_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gestasso_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gestasso_http_request_duration_seconds",
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

		// The route pattern keeps IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
