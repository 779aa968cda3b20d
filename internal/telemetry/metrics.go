package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency, labeled by method/path/status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "storeplane",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// InstallAttemptsTotal counts Helm install invocations by outcome.
var InstallAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "storeplane",
		Subsystem: "provisioning",
		Name:      "install_attempts_total",
		Help:      "Total number of Helm install attempts by outcome.",
	},
	[]string{"outcome"},
)

// ProvisioningOutcomesTotal counts terminal provisioning outcomes by reason.
var ProvisioningOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "storeplane",
		Subsystem: "provisioning",
		Name:      "outcomes_total",
		Help:      "Total number of terminal provisioning outcomes by status and reason.",
	},
	[]string{"status", "reason"},
)

// ActiveWorkers reports the current number of in-flight worker tasks.
var ActiveWorkers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "storeplane",
		Subsystem: "provisioning",
		Name:      "active_workers",
		Help:      "Number of provisioning tasks currently executing.",
	},
)

// PollLoopDuration tracks how long the readiness poll loop takes to converge.
var PollLoopDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "storeplane",
		Subsystem: "provisioning",
		Name:      "poll_loop_duration_seconds",
		Help:      "Time from the end of Helm install to poll-loop termination (success or failure).",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	},
)

// DeleteRetryTotal counts uninstall attempts that failed and were retried.
var DeleteRetryTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "storeplane",
		Subsystem: "provisioning",
		Name:      "delete_retry_total",
		Help:      "Total number of uninstall attempts that failed and will be retried.",
	},
)

// All returns the storeplane-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		InstallAttemptsTotal,
		ProvisioningOutcomesTotal,
		ActiveWorkers,
		PollLoopDuration,
		DeleteRetryTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTP duration metric, and any additional service-specific collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
