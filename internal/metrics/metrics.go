package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels commits and trainings that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels failed commits and trainings.
	OutcomeError = "error"
	// OutcomeSkipped labels malformed commits left out of a scan.
	OutcomeSkipped = "skipped"
	// OutcomeCancelled labels commits dropped because their scan was cancelled.
	OutcomeCancelled = "cancelled"
)

var (
	commitsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leakscope",
			Name:      "commits_processed_total",
			Help:      "Commits seen by repository scans, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	credentialsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leakscope",
			Name:      "credentials_detected_total",
			Help:      "Credential pattern matches, partitioned by severity.",
		},
		[]string{"severity"},
	)

	scanDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leakscope",
			Name:      "scan_seconds",
			Help:      "Repository scan latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	trainingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leakscope",
			Name:      "trainings_total",
			Help:      "Model training runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	modelActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "leakscope",
			Name:      "model_active",
			Help:      "1 when a trained model is serving predictions.",
		},
	)
)

// Register attaches leakscope collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		commitsProcessedTotal,
		credentialsDetectedTotal,
		scanDurationSeconds,
		trainingsTotal,
		modelActive,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCommit counts one commit under the given outcome.
func ObserveCommit(outcome string) {
	switch outcome {
	case OutcomeSkipped, OutcomeError, OutcomeCancelled:
	default:
		outcome = OutcomeSuccess
	}
	commitsProcessedTotal.WithLabelValues(outcome).Inc()
}

// ObserveDetection counts one credential match.
func ObserveDetection(severity string) {
	credentialsDetectedTotal.WithLabelValues(severity).Inc()
}

// ObserveScan records a scan duration.
func ObserveScan(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	scanDurationSeconds.Observe(duration.Seconds())
}

// ObserveTraining counts a training run.
func ObserveTraining(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	trainingsTotal.WithLabelValues(label).Inc()
}

// SetModelActive flips the active-model gauge.
func SetModelActive(active bool) {
	if active {
		modelActive.Set(1)
		return
	}
	modelActive.Set(0)
}
