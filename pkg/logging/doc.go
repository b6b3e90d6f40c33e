// Package logging provides a structured logging system for routercheck with
// unified log handling and level filtering.
//
// This package implements a logging system built on Go's standard slog package,
// providing consistent logging behavior with structured output and level filtering.
//
// # Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about harness operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// # Usage
//
//	import "routercheck/pkg/logging"
//
//	// Initialize with Info level logging to stderr
//	logging.Init(logging.LevelInfo, os.Stderr)
//
//	// Log messages
//	logging.Info("Session", "Harness starting up")
//	logging.Debug("Config", "Loaded alias base from %s", basePath)
//	logging.Warn("Config", "Alias base unreadable, continuing with empty base")
//	logging.Error("Service", err, "Router failed to start")
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Session**: Session setup and teardown
//   - **Config**: Configuration synthesis
//   - **Service**: Router process lifecycle
//   - **Credentials**: Token provisioning
//   - **Verify**: Differential verification
//
// The logging system is thread-safe and filters levels at the handler, so
// suppressed messages cost no allocations.
package logging
