package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "gridrunner"
)

var (
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of executed tests",
	}, []string{
		"run_id",
		"browser",
		"result",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of individual test executions",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{
		"browser",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result counts of the most recent run",
	}, []string{
		"run_id",
		"result",
	})

	sessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "sessions_active",
		Help:      "Number of currently held browser sessions",
	}, []string{
		"browser",
	})
)

// RecordError increments the error counter for the given label.
func RecordError(label string) {
	errorsTotal.WithLabelValues(label).Inc()
}

// RecordTest records the outcome and duration of one test execution.
func RecordTest(runID, browser, result string, duration time.Duration) {
	testsTotal.WithLabelValues(runID, browser, result).Inc()
	testDuration.WithLabelValues(browser).Observe(duration.Seconds())
}

// RecordRun records the aggregate outcome of a completed run.
func RecordRun(runID string, passed, failed int) {
	runResults.WithLabelValues(runID, "pass").Set(float64(passed))
	runResults.WithLabelValues(runID, "fail").Set(float64(failed))
}

// RecordSessionAcquired tracks a session entering use.
func RecordSessionAcquired(browser string) {
	sessionsActive.WithLabelValues(browser).Inc()
}

// RecordSessionReleased tracks a session returning to the pool.
func RecordSessionReleased(browser string) {
	sessionsActive.WithLabelValues(browser).Dec()
}
