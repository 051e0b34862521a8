// Package config loads conclave.yaml.
//
// The file is optional. Values are layered with the following precedence:
//
//  1. command line flags (Overrides)
//  2. conclave.yaml
//  3. defaults (GetDefaultConfig, which follows scheduler.DefaultOptions)
//
// Example:
//
//	features: [features/, "more/**/*.feature"]
//	tags: ["@smoke"]
//	timeout: 5m
//	concurrency: 8
//	parallelism: 0
//	seedParallelWorld: false
//	reports:
//	  dir: reports
//	  formats: [console, junit, html]
//	metrics:
//	  enabled: true
//	tracing:
//	  enabled: false
//
// Unknown keys, negative sizes or timeouts, and unknown report formats are
// rejected with a ConfigurationError or a ConfigurationErrorCollection.
package config
