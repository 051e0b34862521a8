// Package cli provides the terminal presentation helpers shared by the
// conclave commands.
//
// # Core Components
//
// ProgressAdapter is a feedback adapter that drives a spinner while a run is in
// flight. The spinner suffix shows how many scenarios are running and how many
// have finished, failed, or been skipped.
//
// PlainTable renders kubectl-style tables without box-drawing characters so
// that `conclave list` output can be piped to grep, awk, and cut.
//
// CommandFlags consolidates the flags repeated across run, list, and graph.
//
// # Output
//
// Messages meant for humans go through FormatSuccess, FormatWarning, and
// FormatError. Structured output (json, yaml) goes through Print.
package cli
