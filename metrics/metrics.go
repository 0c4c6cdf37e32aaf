package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/testadapt/testadapt/types"
)

const (
	MetricsNamespace = "testadapt"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "reloads_total",
		Help:      "Count of discovery reloads",
	}, []string{
		"runnable",
		"outcome",
	})

	reloadDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "reload_duration_seconds",
		Help:      "Duration of the last discovery reload",
	}, []string{
		"runnable",
	})

	testResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_results_total",
		Help:      "Count of per-test results",
	}, []string{
		"runnable",
		"run_id",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"runnable",
		"run_id",
		"result",
	})

	runTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_total",
		Help:      "Total number of tests in a run",
	}, []string{
		"runnable",
		"run_id",
	})

	runTestPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_passed",
		Help:      "Number of passed tests in a run",
	}, []string{
		"runnable",
		"run_id",
	})

	runTestFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_failed",
		Help:      "Number of failed tests in a run",
	}, []string{
		"runnable",
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of test runs",
	}, []string{
		"runnable",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordReload records one discovery pass and its duration.
func RecordReload(runnable string, outcome string, duration time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "reloads_total",
			"runnable", runnable,
			"outcome", outcome,
			"duration", duration)
	}
	reloadsTotal.WithLabelValues(runnable, outcome).Inc()
	reloadDuration.WithLabelValues(runnable).Set(duration.Seconds())
}

// RecordTestResult records one terminal per-test event.
func RecordTestResult(runnable string, runID string, state types.RunState) {
	if !state.Terminal() {
		log.Error("RecordTestResult - non-terminal state", "state", state)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_results_total",
			"runnable", runnable,
			"run_id", runID,
			"result", state)
	}
	testResultsTotal.WithLabelValues(runnable, runID, string(state)).Inc()
}

func RecordRun(
	runnable string,
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(runnable, runID, result).Set(1)
	runTestTotal.WithLabelValues(runnable, runID).Add(float64(total))
	runTestPassed.WithLabelValues(runnable, runID).Add(float64(passed))
	runTestFailed.WithLabelValues(runnable, runID).Add(float64(failed))
	runDuration.WithLabelValues(runnable, runID).Set(duration.Seconds())
}
