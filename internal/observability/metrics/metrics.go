// Package metrics provides Prometheus instrumentation for contraverify.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled      bool
	serviceName  string
	registerOnce sync.Once

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Verification metrics
	backendOutcomeTotal *prometheus.CounterVec
	backendDuration     *prometheus.HistogramVec
	retryAttemptsTotal  *prometheus.CounterVec
	runTotal            *prometheus.CounterVec
)

// Init initializes the metrics system. Collectors are registered on the
// first enabled call only.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if enabled {
		registerOnce.Do(register)
	}
}

func register() {
	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// One per backend attempt on a contract
	backendOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_backend_outcomes_total",
			Help: "Total number of backend verification outcomes",
		},
		[]string{"backend", "status"},
	)

	// Explorer round trips include polling, so buckets go up to several minutes
	backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_backend_duration_seconds",
			Help:    "Time spent in one backend verification",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"backend"},
	)

	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_retry_attempts_total",
			Help: "Total number of retried remote calls",
		},
		[]string{"component"},
	)

	runTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_runs_total",
			Help: "Total number of verification runs",
		},
		[]string{"chain_id", "result"},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}
