// Package metrics provides Prometheus metrics for BlazeAlert.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "blazealert"
)

// Evaluation metrics
var (
	// EvaluationsTotal counts per-alert outcomes by result.
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Total alert evaluations by result",
		},
		[]string{"result"}, // evaluated, skipped, failed
	)

	// EvaluationDuration tracks per-alert evaluation latency.
	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Alert evaluation latency in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"checker"},
	)

	// RunDuration tracks the latency of a full evaluation pass.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Evaluation pass latency in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// TasksFailed counts tasks whose telemetry client could not be created.
	TasksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tasks_failed_total",
			Help:      "Total tasks failed on client creation",
		},
	)

	// AlertsDropped counts alerts dropped during task resolution.
	AlertsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "alerts_dropped_total",
			Help:      "Total alerts dropped while resolving tasks",
		},
		[]string{"reason"},
	)

	// StateTransitions counts group state changes.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "state_transitions_total",
			Help:      "Total alert group state transitions",
		},
		[]string{"from", "to"},
	)
)

// Notifier metrics
var (
	// NotificationsTotal counts dispatch attempts by webhook service and result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Total notification dispatches",
		},
		[]string{"service", "result"}, // success, failure, rate_limited, blocked
	)

	// NotificationsSuppressed counts notifications not dispatched.
	NotificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "suppressed_total",
			Help:      "Total notifications suppressed",
		},
		[]string{"reason"}, // silenced, no_webhook
	)
)

// Silence metrics
var (
	// SilenceTokens counts token operations.
	SilenceTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "silence",
			Name:      "tokens_total",
			Help:      "Total silence token operations",
		},
		[]string{"op", "result"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
