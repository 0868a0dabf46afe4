package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
)

type contextKey struct{}

var (
	loggerKey       = contextKey{}
	defaultLogger   *slog.Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = New("info", os.Stderr)
}

// parseLevel maps a level name to slog.Level. Unknown names fall back
// to info with a warning rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		defaultLogger.Warn("invalid log level", "level", level)
		return slog.LevelInfo
	}
}

// New builds a logger at the given level name (debug, info, warn,
// warning or error, case-insensitive). Logs go to stderr by default so
// they never interleave with streamed answer tokens on stdout.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	handler := clog.New(
		clog.WithWriter(w),
		clog.WithLevel(parseLevel(level)),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	)

	return slog.New(handler)
}

// Default returns the process-wide logger
func Default() *slog.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger. The CLI calls this once
// after parsing the log-level flag.
func SetDefault(logger *slog.Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

// With attaches a logger to the context for downstream callers
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// From returns the context's logger, or the process-wide one when the
// context carries none. Never nil.
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
