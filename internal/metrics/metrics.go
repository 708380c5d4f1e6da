// Package metrics exposes prometheus collectors for the HTTP server and the
// report scheduler.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportd_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportd_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportd_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportd_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	realtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportd_realtime_connections",
			Help: "Number of connected execution feed clients",
		},
	)

	schedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportd_scheduler_ticks_total",
			Help: "Total number of scheduler scans",
		},
	)

	schedulerDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportd_scheduler_dispatches_total",
			Help: "Due schedules handed to the worker pool",
		},
		[]string{"trigger"},
	)

	schedulerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportd_scheduler_skips_total",
			Help: "Due schedules not run on a tick, by reason",
		},
		[]string{"reason"},
	)

	schedulerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reportd_scheduler_state",
			Help: "Current scheduler loop state (1 for the active state)",
		},
		[]string{"state"},
	)

	schedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportd_scheduler_queue_depth",
			Help: "Jobs waiting for a worker",
		},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportd_executions_total",
			Help: "Finished report executions",
		},
		[]string{"status", "trigger"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportd_execution_duration_seconds",
			Help:    "Report execution time in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	emailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportd_emails_total",
			Help: "Report emails handed to the mail server",
		},
		[]string{"result"},
	)
)

var schedulerStates = []string{"idle", "scanning", "dispatching"}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func UpdateDBStats(open, inUse int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
}

func UpdateRealtimeConnections(n int) {
	realtimeConnections.Set(float64(n))
}

func RecordTick() {
	schedulerTicks.Inc()
}

func RecordDispatch(trigger string) {
	schedulerDispatches.WithLabelValues(trigger).Inc()
}

func RecordSkip(reason string) {
	schedulerSkips.WithLabelValues(reason).Inc()
}

// SetSchedulerState marks state as the active loop state.
func SetSchedulerState(state string) {
	for _, s := range schedulerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		schedulerState.WithLabelValues(s).Set(v)
	}
}

func SetQueueDepth(n int) {
	schedulerQueueDepth.Set(float64(n))
}

func RecordExecution(status, trigger string, duration time.Duration) {
	executionsTotal.WithLabelValues(status, trigger).Inc()
	executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordEmail(result string) {
	emailsTotal.WithLabelValues(result).Inc()
}

// NormalizePath turns a route pattern such as "GET /scheduled-reports/{id}"
// into a low-cardinality label "/scheduled-reports/:id".
func NormalizePath(pattern string) string {
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if len(pattern) > 100 {
		pattern = pattern[:100]
	}

	var b strings.Builder
	inParam := false
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; {
		case c == '{':
			inParam = true
			b.WriteByte(':')
		case c == '}':
			inParam = false
		case inParam && c == '.':
			// "{path...}" wildcards
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
