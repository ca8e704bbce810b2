package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts requests by chi route pattern, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route", "method"},
	)
)

// Store and domain metrics
var (
	// StoreOpsTotal tracks app store operations by operation and status.
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_store_operations_total",
			Help: "Total app store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	AppLaunchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_app_launches_total",
			Help: "App launches through the redirect endpoint by zone",
		},
		[]string{"zone"},
	)

	// LoginAttemptsTotal tracks admin logins by outcome (success/invalid/limited/bad_request).
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_login_attempts_total",
			Help: "Admin login attempts by outcome",
		},
		[]string{"outcome"},
	)

	SessionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_decisions_total",
			Help: "Admin guard decisions by result",
		},
		[]string{"decision"},
	)
)

// Circuit breaker metrics
var (
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// StoreStatus maps an error to the status label used by StoreOpsTotal.
func StoreStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
