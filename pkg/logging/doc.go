// Package logging provides subsystem-tagged structured logging for conclave.
//
// The package wraps Go's standard slog package with a small, process-wide API so
// that every component logs with the same shape: a message, a subsystem name and
// an optional error.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Scheduler", "Running %d main tasks", n)
//	logging.Debug("Scenario", "Step %q matched %q", text, pattern)
//	logging.Warn("Scheduler", "Task %s depends on unknown id %s", id, dep)
//	logging.Error("Feedback", err, "Adapter %T failed", adapter)
//
// # Subsystems
//
//   - **Scheduler**: graph construction, admission, dispatch, phase timeouts
//   - **Scenario**: step execution and the concurrent-step loop
//   - **StepRegistry**: handler registration and lookup
//   - **Feedback**: the feedback pipeline and its adapters
//   - **ProcessMonitor**: process tracking and termination
//   - **WorkerPool** / **Worker**: the process pool, parent and child side
//   - **Loader**: feature file discovery and parsing
//   - **ConfigLoader**, **Report**, **Watch**: configuration, report rendering, watch mode
//
// Worker processes initialize the logger with FormatJSON on stderr so the parent
// can relay their diagnostics.
//
// # Thread Safety
//
// Logging is safe from multiple goroutines. Init swaps the logger atomically.
package logging
