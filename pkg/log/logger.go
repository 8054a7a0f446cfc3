package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// Output formats accepted by Init.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatCloud   = "cloud"
)

var (
	providerMu sync.RWMutex
	provider   LoggerProvider = NewZerologProvider(
		zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger().Level(zerolog.InfoLevel),
	)
)

// Options configures the process-wide logger.
type Options struct {
	Verbose bool
	Format  string
	Out     io.Writer
}

// Init installs the process-wide provider and routes pkg/errors warnings to it.
func Init(opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	level := LevelInfo
	if opts.Verbose {
		level = LevelDebug
	}

	var p LoggerProvider
	switch opts.Format {
	case "", FormatConsole:
		zerolog.TimeFieldFormat = time.RFC3339
		p = NewZerologProvider(zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger())
	case FormatJSON:
		zerolog.TimeFieldFormat = time.RFC3339
		p = NewZerologProvider(zerolog.New(out).With().Timestamp().Logger())
	case FormatCloud:
		lv := new(slog.LevelVar)
		p = NewSlogProvider(SetupLogger(out, lv), lv)
	default:
		return perrors.NewValidationError("log_format", "unknown log format", opts.Format)
	}
	p.SetLevel(level)
	SetProvider(p)
	return nil
}

// SetProvider replaces the process-wide provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	provider = p

	perrors.SetZerologWarnFunc(func(w error) {
		p.GetLoggerWithName("warnings").Warn(w.Error(), ErrAttrKey, w)
	})
}

// GetLogger returns the default logger of the process-wide provider.
func GetLogger() Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLogger()
}

// GetLoggerWithName returns a logger tagged with a component name.
func GetLoggerWithName(name string) Logger {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return provider.GetLoggerWithName(name)
}

// SetupLogger builds a slog JSON logger in Cloud Logging format, wrapped so
// error attributes carry their stack trace.
func SetupLogger(out io.Writer, level slog.Leveler) *slog.Logger {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{Key: "severity", Value: attr.Value}
			case slog.MessageKey:
				attr = slog.Attr{Key: "message", Value: attr.Value}
			case slog.SourceKey:
				attr = slog.Attr{Key: "logging.googleapis.com/sourceLocation", Value: attr.Value}
			}
			return attr
		},
	}
	handler := slog.NewJSONHandler(out, &ops)
	return slog.New(WrapByErrFmtHandler(handler))
}

// ParseLevel converts a level name from configuration.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, perrors.NewValidationError("log_level", fmt.Sprintf("invalid log level %q", level), level)
	}
}

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
