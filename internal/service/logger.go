package service

import (
	"fmt"
	"os"
)

// Logger is the printf-style logger the manager reports through. Tests inject
// their own implementation; the CLI uses the stdout logger.
type Logger interface {
	// Debug logs debug-level messages (only shown when debug is enabled)
	Debug(format string, args ...interface{})
	// Info logs info-level messages
	Info(format string, args ...interface{})
	// Error logs error-level messages (always shown)
	Error(format string, args ...interface{})
	// IsDebugEnabled returns whether debug logging is enabled
	IsDebugEnabled() bool
}

// stdoutLogger outputs to stdout/stderr.
type stdoutLogger struct {
	verbose bool
	debug   bool
}

// NewStdoutLogger creates a logger that outputs to stdout/stderr.
func NewStdoutLogger(verbose, debug bool) Logger {
	return &stdoutLogger{verbose: verbose, debug: debug}
}

func (l *stdoutLogger) Debug(format string, args ...interface{}) {
	if l.debug {
		fmt.Printf(format, args...)
	}
}

func (l *stdoutLogger) Info(format string, args ...interface{}) {
	if l.verbose || l.debug {
		fmt.Printf(format, args...)
	}
}

func (l *stdoutLogger) Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func (l *stdoutLogger) IsDebugEnabled() bool {
	return l.debug
}

// silentLogger suppresses all output.
type silentLogger struct{}

// NewSilentLogger creates a logger that discards everything.
func NewSilentLogger() Logger {
	return &silentLogger{}
}

func (l *silentLogger) Debug(format string, args ...interface{}) {}
func (l *silentLogger) Info(format string, args ...interface{})  {}
func (l *silentLogger) Error(format string, args ...interface{}) {}
func (l *silentLogger) IsDebugEnabled() bool                     { return false }
