package config

import (
	"path/filepath"
	"time"

	"conclave/internal/report"
	"conclave/pkg/scheduler"
)

// Overrides carries the command line values that take precedence over the file.
// Zero values leave the file setting untouched.
type Overrides struct {
	Features    []string
	Tags        []string
	Timeout     *time.Duration
	Concurrency int
	Parallelism int
	Formats     []string
	ReportsDir  string
}

// Apply merges o into config. Flags win over the file.
func (o Overrides) Apply(config *ConclaveConfig) {
	if len(o.Features) > 0 {
		config.Features = o.Features
	}
	if len(o.Tags) > 0 {
		config.Tags = o.Tags
	}
	if o.Timeout != nil {
		config.Timeout = o.Timeout
	}
	if o.Concurrency > 0 {
		config.Concurrency = o.Concurrency
	}
	if o.Parallelism > 0 {
		config.Parallelism = o.Parallelism
	}
	if len(o.Formats) > 0 {
		config.Reports.Formats = o.Formats
	}
	if o.ReportsDir != "" {
		config.Reports.Dir = o.ReportsDir
	}
}

// ToOptions converts the configuration into scheduler options.
func (c ConclaveConfig) ToOptions() scheduler.Options {
	opts := scheduler.DefaultOptions()
	opts.Features = c.Features
	opts.Tags = c.Tags
	if c.Timeout != nil {
		opts.Timeout = *c.Timeout
	}
	if c.Concurrency > 0 {
		opts.Concurrency = c.Concurrency
	}
	opts.Parallelism = c.Parallelism
	opts.SeedParallelWorld = c.SeedParallelWorld
	return opts
}

// ReportFormats returns the validated report formats. An empty list selects all.
func (c ConclaveConfig) ReportFormats() ([]report.Format, error) {
	return report.ParseFormats(c.Reports.Formats)
}

// ReportsDir returns the report directory resolved against base when relative.
func (c ConclaveConfig) ReportsDir(base string) string {
	dir := c.Reports.Dir
	if dir == "" {
		dir = DefaultReportsDir
	}
	if filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}
