// Package observability exports run events as Prometheus metrics and
// OpenTelemetry traces. Both are feedback adapters.
package observability

import (
	"fmt"

	"conclave/pkg/feedback"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsFile is the name of the metrics dump in the reports directory.
const MetricsFile = "metrics.prom"

// MetricsAdapter counts finished scenarios and steps.
type MetricsAdapter struct {
	registry *prometheus.Registry

	scenarios *prometheus.CounterVec
	steps     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetricsAdapter registers the conclave metrics on a new registry.
func NewMetricsAdapter() *MetricsAdapter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &MetricsAdapter{
		registry: reg,
		scenarios: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_scenarios_total",
				Help: "Finished scenarios by status",
			},
			[]string{"status"},
		),
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_steps_total",
				Help: "Finished steps by status",
			},
			[]string{"status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_scenario_duration_seconds",
				Help:    "Duration of run scenarios by feature",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"feature"},
		),
	}
}

// Registry returns the registry holding the metrics.
func (m *MetricsAdapter) Registry() *prometheus.Registry {
	return m.registry
}

// OnScenario implements feedback.Adapter.
func (m *MetricsAdapter) OnScenario(ev feedback.ScenarioEvent) error {
	if !ev.Status.Terminal() {
		return nil
	}
	m.scenarios.WithLabelValues(string(ev.Status)).Inc()
	if !ev.Start.IsZero() {
		m.duration.WithLabelValues(ev.Feature.Name).Observe(ev.Elapsed.Seconds())
	}
	return nil
}

// OnStep implements feedback.Adapter.
func (m *MetricsAdapter) OnStep(ev feedback.StepEvent) error {
	if ev.Status.Terminal() {
		m.steps.WithLabelValues(string(ev.Status)).Inc()
	}
	return nil
}

// WriteFile dumps the metrics in the Prometheus text format.
func (m *MetricsAdapter) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
