package log

import (
	"context"
	"log/slog"
)

// SlogLogger implements Logger on a *slog.Logger; used for the Cloud Logging
// output format.
type SlogLogger struct {
	logger *slog.Logger
}

func (s *SlogLogger) Debug(msg string, fields ...any) { s.logger.Debug(msg, slogArgs(fields)...) }
func (s *SlogLogger) Info(msg string, fields ...any)  { s.logger.Info(msg, slogArgs(fields)...) }
func (s *SlogLogger) Warn(msg string, fields ...any)  { s.logger.Warn(msg, slogArgs(fields)...) }
func (s *SlogLogger) Error(msg string, fields ...any) { s.logger.Error(msg, slogArgs(fields)...) }

func (s *SlogLogger) With(fields ...any) Logger {
	return &SlogLogger{logger: s.logger.With(slogArgs(fields)...)}
}

func (s *SlogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.logger.Enabled(ctx, slog.Level(level))
}

// slogArgs moves a leading error into ErrAttr so ErrFmtHandler sees it.
func slogArgs(fields []any) []any {
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			return append([]any{ErrAttr(err)}, fields[1:]...)
		}
	}
	return fields
}

// SlogProvider serves SlogLoggers.
type SlogProvider struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogProvider wraps l; level must be the Leveler l's handler was built with.
func NewSlogProvider(l *slog.Logger, level *slog.LevelVar) *SlogProvider {
	return &SlogProvider{logger: l, level: level}
}

func (p *SlogProvider) GetLogger() Logger {
	return &SlogLogger{logger: p.logger}
}

func (p *SlogProvider) GetLoggerWithName(name string) Logger {
	return &SlogLogger{logger: p.logger.With(ComponentKey, name)}
}

func (p *SlogProvider) SetLevel(level Level) {
	p.level.Set(slog.Level(level))
}
