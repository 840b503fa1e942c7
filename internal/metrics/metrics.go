// Package metrics provides Prometheus instrumentation for the fund engine.
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
	// DepositsTotal counts deposit workflow transitions by outcome.
	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_deposits_total",
		Help: "Total deposit requests processed",
	}, []string{"status"})

	// WithdrawalsTotal counts withdrawal workflow transitions by outcome.
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_withdrawals_total",
		Help: "Total withdrawal requests processed",
	}, []string{"status"})

	// SurgeFeeApplications counts withdrawals that triggered a surge rule.
	SurgeFeeApplications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_surge_fee_applications_total",
		Help: "Withdrawals that triggered a surge fee rule",
	}, []string{"reason"})

	// TradesSettled counts settled trades by result.
	TradesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_trades_settled_total",
		Help: "Trades settled, by result",
	}, []string{"result"})

	// SettlementConflicts counts settlement attempts rejected by the
	// exactly-once guards.
	SettlementConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_settlement_conflicts_total",
		Help: "Settlement attempts rejected because the trade was already settled",
	})

	// DistributionsTotal counts executed distribution rounds.
	DistributionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_distributions_total",
		Help: "Distribution rounds executed",
	})

	// LedgerEntriesTotal counts posted ledger entries by reference kind.
	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_ledger_entries_total",
		Help: "Balanced ledger entries posted",
	}, []string{"reference"})

	// NAVPerUnit exports the last computed NAV for dashboards.
	NAVPerUnit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_nav_per_unit",
		Help: "Most recently computed net asset value per unit",
	})

	// UnitsOutstanding exports the last computed units outstanding.
	UnitsOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_units_outstanding",
		Help: "Most recently computed units outstanding",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
