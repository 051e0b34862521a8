package config

import (
	"conclave/pkg/scheduler"
)

const (
	// DefaultFeaturesDir is scanned when neither flags nor the file name features.
	DefaultFeaturesDir = "features"

	// DefaultReportsDir receives the rendered reports.
	DefaultReportsDir = "reports"
)

// GetDefaultConfig returns the configuration used when no file is present.
func GetDefaultConfig() ConclaveConfig {
	opts := scheduler.DefaultOptions()
	timeout := opts.Timeout
	return ConclaveConfig{
		Features:    []string{DefaultFeaturesDir},
		Timeout:     &timeout,
		Concurrency: opts.Concurrency,
		Reports: ReportsConfig{
			Dir: DefaultReportsDir,
		},
	}
}
