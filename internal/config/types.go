package config

import (
	"time"
)

// ConclaveConfig is the top-level structure of conclave.yaml.
type ConclaveConfig struct {
	// Features lists feature files, directories, or doublestar globs.
	Features []string `yaml:"features,omitempty"`
	// Tags restricts the run to scenarios carrying at least one of them.
	Tags []string `yaml:"tags,omitempty"`
	// Timeout bounds the wait of each phase (default: 5m, 0 = unbounded)
	Timeout *time.Duration `yaml:"timeout,omitempty"`
	// Concurrency is the thread pool size (default: 8)
	Concurrency int `yaml:"concurrency,omitempty"`
	// Parallelism is the process pool size (default: one worker per CPU)
	Parallelism int `yaml:"parallelism,omitempty"`
	// SeedParallelWorld marshals the World into parallel run contexts.
	SeedParallelWorld bool `yaml:"seedParallelWorld,omitempty"`

	Reports ReportsConfig `yaml:"reports,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// ReportsConfig selects where and how the run is reported.
type ReportsConfig struct {
	Dir     string   `yaml:"dir,omitempty"`     // Output directory (default: reports)
	Formats []string `yaml:"formats,omitempty"` // Report formats (default: all)
}

// MetricsConfig enables the Prometheus text dump.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// TracingConfig enables the OpenTelemetry span dump.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}
