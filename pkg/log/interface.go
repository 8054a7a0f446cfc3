// Package log provides the structured logging interface used across pglsum.
//
// The Logger interface mirrors log/slog so that the default zerolog-backed
// implementation, the slog Cloud Logging implementation and the in-memory
// TestLogger are interchangeable. Training code attaches the keys from
// attributes.go:
//
//	logger := log.GetLoggerWithName("solver").With(log.RunIDKey, runID)
//	logger.Info("epoch finished",
//	    log.EpochKey, epoch,
//	    log.LossKey, meanLoss,
//	    log.BatchesKey, numBatches,
//	)
package log

import (
	"context"
)

// Logger is a slog-compatible structured logger.
//
// Fields are alternating key/value pairs. For Error, an error value passed as
// the first field is recorded under the "error" key.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With returns a logger that adds fields to every record.
	With(fields ...any) Logger

	// Enabled reports whether records at level are emitted. Used to skip
	// building per-batch debug fields when they would be dropped.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers. The process-wide provider is swapped with
// SetProvider at startup.
type LoggerProvider interface {
	GetLogger() Logger
	GetLoggerWithName(name string) Logger
	SetLevel(level Level)
}
