package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"conclave/internal/report"
	"conclave/pkg/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conclave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)

	opts := cfg.ToOptions()
	assert.Equal(t, scheduler.DefaultTimeout, opts.Timeout)
	assert.Equal(t, scheduler.DefaultConcurrency, opts.Concurrency)
	assert.Equal(t, []string{DefaultFeaturesDir}, opts.Features)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.Error(t, err)

	var ce ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "io", ce.ErrorType)
	assert.Equal(t, "missing.yaml", ce.FileName)
}

func TestLoadConfig_Full(t *testing.T) {
	path := writeConfig(t, `
features: [features/, "more/**/*.feature"]
tags: ["@smoke"]
timeout: 90s
concurrency: 4
parallelism: 2
seedParallelWorld: true
reports:
  dir: out
  formats: [console, junit]
metrics:
  enabled: true
tracing:
  enabled: true
`)
	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"features/", "more/**/*.feature"}, cfg.Features)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Tracing.Enabled)

	opts := cfg.ToOptions()
	assert.Equal(t, 90*time.Second, opts.Timeout)
	assert.Equal(t, 4, opts.Concurrency)
	assert.Equal(t, 2, opts.Parallelism)
	assert.True(t, opts.SeedParallelWorld)
	assert.Equal(t, []string{"@smoke"}, opts.Tags)

	formats, err := cfg.ReportFormats()
	require.NoError(t, err)
	assert.Equal(t, []report.Format{report.FormatConsole, report.FormatJUnit}, formats)
	assert.Equal(t, filepath.Join("/work", "out"), cfg.ReportsDir("/work"))
}

func TestLoadConfig_ZeroTimeoutIsUnbounded(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "timeout: 0s\n"), true)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.ToOptions().Timeout)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, scheduler.DefaultConcurrency, cfg.Concurrency)
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "# nothing configured\n"), true)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadConfig_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantLine int
	}{
		{"unknown key", "features: [a]\nconcurency: 3\n", 2},
		{"wrong type", "concurrency: many\n", 1},
		{"syntax", "features: [a\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content), true)
			require.Error(t, err)

			var ce ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "parse", ce.ErrorType)
			assert.Equal(t, tt.wantLine, ce.LineNumber)
			assert.NotEmpty(t, ce.Suggestions)
			assert.Contains(t, ce.DetailedError(), "conclave.yaml")
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `
timeout: -1s
concurrency: -2
parallelism: -3
tags: ["  "]
reports:
  formats: [console, pdf]
`)
	_, err := LoadConfig(path, true)
	require.Error(t, err)

	var cec ConfigurationErrorCollection
	require.True(t, errors.As(err, &cec))
	require.Len(t, cec.Errors, 5)

	fields := make([]string, 0, len(cec.Errors))
	for _, ce := range cec.Errors {
		assert.Equal(t, "validation", ce.ErrorType)
		fields = append(fields, ce.Field)
	}
	assert.Equal(t, []string{"timeout", "concurrency", "parallelism", "reports.formats[1]", "tags[0]"}, fields)
	assert.Contains(t, cec.Error(), "5 configuration errors")
	assert.Contains(t, cec.GetDetailedReport(), "Field: reports.formats[1]")
}

func TestOverrides_Apply(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Tags = []string{"@smoke"}
	timeout := 30 * time.Second

	Overrides{
		Features:    []string{"a.feature"},
		Tags:        []string{"@slow"},
		Timeout:     &timeout,
		Concurrency: 2,
		Parallelism: 3,
		Formats:     []string{"json"},
		ReportsDir:  "/tmp/out",
	}.Apply(&cfg)

	assert.Equal(t, []string{"a.feature"}, cfg.Features)
	assert.Equal(t, []string{"@slow"}, cfg.Tags)
	assert.Equal(t, 30*time.Second, cfg.ToOptions().Timeout)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 3, cfg.Parallelism)
	assert.Equal(t, []string{"json"}, cfg.Reports.Formats)
	assert.Equal(t, "/tmp/out", cfg.ReportsDir("/work"))

	untouched := GetDefaultConfig()
	Overrides{}.Apply(&untouched)
	assert.Equal(t, GetDefaultConfig(), untouched)
}
