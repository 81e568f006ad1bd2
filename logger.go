package scopeserve

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// Logger wraps slog.Logger with scopeserve-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithSession adds a session field to the logger.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("session", id),
	}
}

// WithDataset adds a dataset path field to the logger.
func (l *Logger) WithDataset(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", path),
	}
}

// WithComponent tags the logger with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogOpen logs a dataset listing entry.
func (l *Logger) LogOpen(ctx context.Context, path string, size int64, err error) {
	if err != nil {
		l.WarnContext(ctx, "dataset skipped",
			"path", path,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "dataset listed",
			"path", path,
			"size", humanize.Bytes(uint64(max(size, 0))),
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, path, query string, categories int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"path", path,
			"query", query,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"path", path,
			"query", query,
			"categories", categories,
			"elapsed", elapsed,
		)
	}
}

// LogSession logs a session resolution.
func (l *Logger) LogSession(ctx context.Context, id string, created, limited bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "session resolution failed",
			"session", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "session resolved",
			"session", id,
			"created", created,
			"limit_reached", limited,
		)
	}
}

// LogSweep logs an expiry sweep.
func (l *Logger) LogSweep(ctx context.Context, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "session sweep failed",
			"removed", removed,
			"error", err,
		)
	} else if removed > 0 {
		l.InfoContext(ctx, "session sweep completed",
			"removed", removed,
		)
	}
}

// LogColor logs a colouring request.
func (l *Logger) LogColor(ctx context.Context, path string, features, cells int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cell colours failed",
			"path", path,
			"features", features,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "cell colours computed",
			"path", path,
			"features", features,
			"cells", cells,
		)
	}
}

// LogEdit logs a metadata edit.
func (l *Logger) LogEdit(ctx context.Context, op, path string, err error) {
	if err != nil {
		l.WarnContext(ctx, "metadata edit failed",
			"op", op,
			"path", path,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "metadata edited",
			"op", op,
			"path", path,
		)
	}
}
