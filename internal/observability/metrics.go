package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes reported by workers.
const (
	OutcomeOK       = "ok"
	OutcomeSentinel = "sentinel"
)

var (
	registerOnce sync.Once

	workerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dgpool",
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Handled dG requests by outcome.",
		},
		[]string{"port", "outcome"},
	)
	workerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dgpool",
			Subsystem: "worker",
			Name:      "request_duration_seconds",
			Help:      "Time spent computing one dG response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"port"},
	)
	workerFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dgpool",
			Subsystem: "worker",
			Name:      "faults_total",
			Help:      "Worker faults by kind.",
		},
		[]string{"port", "kind"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dgpool",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Listener teardown and rebind cycles.",
		},
		[]string{"port"},
	)
	workerMetricsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dgpool",
			Subsystem: "worker",
			Name:      "metrics_serve_errors_total",
			Help:      "Per-worker /metrics servers that failed to start or stopped with an error.",
		},
		[]string{"port"},
	)
	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dgpool",
			Subsystem: "supervisor",
			Name:      "process_starts_total",
			Help:      "Worker processes launched by the supervisor.",
		},
		[]string{"port"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dgpool",
			Subsystem: "supervisor",
			Name:      "process_exits_total",
			Help:      "Worker process exits observed by the supervisor.",
		},
		[]string{"port", "clean"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dgpool",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"role", "method", "route", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			workerRequests,
			workerDuration,
			workerFaults,
			workerRestarts,
			workerMetricsErrors,
			processStarts,
			processExits,
			httpRequests,
		)
	})
}

func RecordRequest(port int, outcome string, duration time.Duration) {
	RegisterMetrics()
	p := strconv.Itoa(port)
	workerRequests.WithLabelValues(p, outcome).Inc()
	workerDuration.WithLabelValues(p).Observe(duration.Seconds())
}

func RecordFault(port int, kind string) {
	RegisterMetrics()
	workerFaults.WithLabelValues(strconv.Itoa(port), kind).Inc()
}

func RecordRestart(port int) {
	RegisterMetrics()
	workerRestarts.WithLabelValues(strconv.Itoa(port)).Inc()
}

func RecordMetricsServeError(port int) {
	RegisterMetrics()
	workerMetricsErrors.WithLabelValues(strconv.Itoa(port)).Inc()
}

func RecordProcessStart(port int) {
	RegisterMetrics()
	processStarts.WithLabelValues(strconv.Itoa(port)).Inc()
}

func RecordProcessExit(port int, clean bool) {
	RegisterMetrics()
	processExits.WithLabelValues(strconv.Itoa(port), strconv.FormatBool(clean)).Inc()
}

func RecordHTTPRequest(role, method, route string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(role, method, route, strconv.Itoa(status)).Inc()
}
