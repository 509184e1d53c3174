package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for provisioning runs.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	warnings        *prometheus.CounterVec
	readyAttempts   prometheus.Histogram
	packagesInstall *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of provisioning runs completed",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of provisioning runs in seconds",
				Buckets:   buckets,
			},
			[]string{"mode"},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of workflow steps executed",
			},
			[]string{"step", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),
		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warnings_total",
				Help:      "Total number of recoverable failures reported as warnings",
			},
			[]string{"stage"},
		),
		readyAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ready_attempts",
				Help:      "Number of polling attempts before the guest became ready",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
			},
		),
		packagesInstall: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "package_installs_total",
				Help:      "Total number of individual package installs",
			},
			[]string{"outcome"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsCompleted, m.runDuration,
		m.stepsExecuted, m.stepDuration,
		m.warnings, m.readyAttempts, m.packagesInstall,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// RecordRun records a completed run.
func (m *Metrics) RecordRun(mode, status string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	m.runsCompleted.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStep records the outcome of a workflow step.
func (m *Metrics) RecordStep(step, outcome string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	m.stepsExecuted.WithLabelValues(step, outcome).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordWarning records a recoverable failure.
func (m *Metrics) RecordWarning(stage string) {
	if !m.config.Enabled {
		return
	}
	m.warnings.WithLabelValues(stage).Inc()
}

// RecordReadyAttempts records how many polls a readiness wait needed.
func (m *Metrics) RecordReadyAttempts(attempts int) {
	if !m.config.Enabled {
		return
	}
	m.readyAttempts.Observe(float64(attempts))
}

// RecordPackageInstall records one package install outcome.
func (m *Metrics) RecordPackageInstall(outcome string) {
	if !m.config.Enabled {
		return
	}
	m.packagesInstall.WithLabelValues(outcome).Inc()
}

// Subscriber turns events into metric updates.
func (m *Metrics) Subscriber() EventSubscriber {
	return func(event Event) {
		switch event.Type {
		case EventTypeWarning:
			m.RecordWarning(event.Stage)
		case EventTypeStepCompleted:
			if d, ok := event.Data["duration_seconds"].(float64); ok {
				outcome, _ := event.Data["outcome"].(string)
				if outcome == "" {
					outcome = "ok"
				}
				step, _ := event.Data["step"].(string)
				m.RecordStep(step, outcome, time.Duration(d*float64(time.Second)))
			}
		case EventTypeWaitProgress:
			if ready, _ := event.Data["ready"].(bool); ready {
				if attempt, ok := event.Data["attempt"].(int); ok {
					m.RecordReadyAttempts(attempt)
				}
			}
		case EventTypePackageResult:
			if outcome, ok := event.Data["outcome"].(string); ok {
				m.RecordPackageInstall(outcome)
			}
		}
	}
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry to the configured textfile path.
func (m *Metrics) WriteTextfile() error {
	if !m.config.Enabled || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
