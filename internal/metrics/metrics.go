package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/config"
)

var Enabled bool
var registry = prometheus.NewRegistry()
var ScrapingHandler http.Handler = nil
var durationBuckets = []float64{0.002, 0.005, 0.010, 0.02, 0.03, 0.05, 0.1, 0.15, 0.3, 0.6, 1.0, 3.0, 10.0}

var (
	metricSubmitted = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "invocations_submitted_total",
		Help: "Number of accepted invocations",
	}, []string{"function"})
	metricCompletions = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "invocations_completed_total",
		Help: "Number of completed invocations",
	}, []string{"function", "outcome"})
	metricProvisioned = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "environments_provisioned_total",
		Help: "Number of environments started on demand",
	}, []string{"function"})
	metricDispatchRetries = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_retries_total",
		Help: "Environments discarded at hand-off time",
	}, []string{"function"})
	metricInFlight = promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "invocations_in_flight",
		Help: "Invocations dispatched and not yet completed",
	}, []string{"function"})
	metricDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invocation_duration_seconds",
		Help:    "Time from dispatch to result",
		Buckets: durationBuckets,
	}, []string{"function"})
)

func Init() {
	if config.GetBool(config.METRICS_ENABLED, false) {
		logrus.Info("Metrics enabled.")
		Enabled = true
	} else {
		Enabled = false
		return
	}

	ScrapingHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true})
}

func AddSubmittedInvocation(funcName string) {
	if Enabled {
		metricSubmitted.With(prometheus.Labels{"function": funcName}).Inc()
	}
}

func AddCompletedInvocation(funcName string, outcome string, duration float64) {
	if !Enabled {
		return
	}
	metricCompletions.With(prometheus.Labels{"function": funcName, "outcome": outcome}).Inc()
	if duration >= 0 {
		metricDuration.With(prometheus.Labels{"function": funcName}).Observe(duration)
	}
}

func AddProvisionedEnvironment(funcName string) {
	if Enabled {
		metricProvisioned.With(prometheus.Labels{"function": funcName}).Inc()
	}
}

func AddDispatchRetry(funcName string) {
	if Enabled {
		metricDispatchRetries.With(prometheus.Labels{"function": funcName}).Inc()
	}
}

func SetInFlight(funcName string, n int) {
	if Enabled {
		metricInFlight.With(prometheus.Labels{"function": funcName}).Set(float64(n))
	}
}
