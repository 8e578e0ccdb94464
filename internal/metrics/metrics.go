// Package metrics provides Prometheus instrumentation for the prediction
// engine.
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
	// StakesCast counts stakes cast, partitioned by side.
	StakesCast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calledit_stakes_cast_total",
		Help: "Total number of stakes cast",
	}, []string{"side"})

	// PointsStaked accumulates points committed through stakes, by side.
	PointsStaked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calledit_points_staked_total",
		Help: "Cumulative points staked",
	}, []string{"side"})

	// StakesWithdrawn counts user-initiated stake withdrawals.
	StakesWithdrawn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calledit_stakes_withdrawn_total",
		Help: "Total number of stakes withdrawn before resolution",
	})

	// PredictionsCreated counts predictions created.
	PredictionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calledit_predictions_created_total",
		Help: "Total number of predictions created",
	})

	// PredictionsClosed counts predictions closed, by trigger ("manual"
	// or "sweep").
	PredictionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calledit_predictions_closed_total",
		Help: "Total number of predictions closed to new stakes",
	}, []string{"trigger"})

	// SettlementsTotal counts completed settlements, by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calledit_settlements_total",
		Help: "Total number of prediction settlements",
	}, []string{"outcome"})

	// SettlementPayouts accumulates points credited to winners.
	SettlementPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calledit_settlement_payout_points_total",
		Help: "Cumulative points paid out by settlements",
	})

	// SettlementDuration tracks how long the per-stake payout pass takes.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calledit_settlement_duration_seconds",
		Help:    "Settlement payout pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PredictionsCancelled counts cancelled predictions.
	PredictionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calledit_predictions_cancelled_total",
		Help: "Total number of predictions cancelled with refunds",
	})

	// DailyBonusClaims counts successful daily bonus claims.
	DailyBonusClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calledit_daily_bonus_claims_total",
		Help: "Total number of daily bonus claims",
	})

	// ConflictRetries counts transaction conflicts that were retried.
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calledit_conflict_retries_total",
		Help: "Store transaction conflicts retried by the engine",
	})

	// ActivePredictions tracks the number of predictions accepting stakes.
	ActivePredictions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calledit_active_predictions",
		Help: "Number of currently active predictions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calledit_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calledit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calledit_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SideLabel converts a stake side to its metric label.
func SideLabel(side bool) string {
	if side {
		return "yes"
	}
	return "no"
}

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

		// Use the raw path for the path label.
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
