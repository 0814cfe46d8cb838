package stream

import "log/slog"

// Logger is the interface for structured logging.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger returns the slog default logger tagged with the package component.
func defaultLogger() Logger {
	return slog.Default().With("component", "stream")
}

// discardLogger drops every record.
type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// DiscardLogger is a Logger that produces no output.
var DiscardLogger Logger = discardLogger{}
