// Package metrics records pipeline stage timings, stage failures and run
// outcomes as Prometheus collectors. Each Metrics owns its registry so runs
// in tests never share state.
package metrics

import (
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "zgate"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry
	clock    clockwork.Clock

	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

// New returns Metrics timing stages with clock. A nil clock means the real
// clock.
func New(clock clockwork.Clock) *Metrics {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		clock:    clock,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_failures_total",
			Help:      "Number of pipeline stage failures",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Number of pipeline runs by outcome",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.stageDuration, m.stageFailures, m.runs)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// StartStage starts timing stage. The returned function stops the timer and
// counts a failure when err is non-nil.
func (m *Metrics) StartStage(stage string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := m.clock.Now()
	return func(err error) {
		m.stageDuration.WithLabelValues(stage).Observe(m.clock.Since(start).Seconds())
		if err != nil {
			m.stageFailures.WithLabelValues(stage).Inc()
		}
	}
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the current values in the Prometheus text format,
// for collection by node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
