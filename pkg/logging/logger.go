package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logger wraps slog.Logger with application-specific functionality
type Logger struct {
	*slog.Logger
	// base carries every attribute except component, so Component replaces
	// the name instead of stacking a second key.
	base   *slog.Logger
	closer io.Closer
}

// Options configures a logger built by NewWithOptions.
type Options struct {
	Level     string
	Format    string // "text" (default) or "json"
	FilePath  string // append-only file sink; empty disables it
	Component string
	Console   io.Writer
}

// New creates a new logger with the specified level
func New(level string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)

	return &Logger{Logger: logger, base: logger}
}

// NewWithOptions creates a logger that writes line-based records to the console
// and, when FilePath is set, appends the same records to that file.
func NewWithOptions(o Options) (*Logger, error) {
	console := o.Console
	if console == nil {
		console = os.Stdout
	}
	out := console
	var closer io.Closer
	if path := strings.TrimSpace(o.FilePath); path != "" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("logging: create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		out = io.MultiWriter(console, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(o.Level)}
	var handler slog.Handler
	if strings.EqualFold(o.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	base := slog.New(handler)
	logger := base
	if o.Component != "" {
		logger = base.With("component", o.Component)
	}
	return &Logger{Logger: logger, base: base, closer: closer}, nil
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}

// Component returns a child logger tagged with the given component name,
// replacing any component set earlier.
func (l *Logger) Component(name string) *Logger {
	if l == nil {
		l = Default()
	}
	base := l.baseLogger()
	return &Logger{Logger: base.With("component", name), base: base}
}

// With returns a child logger carrying attrs on every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		l = Default()
	}
	return &Logger{Logger: l.Logger.With(args...), base: l.baseLogger().With(args...)}
}

func (l *Logger) baseLogger() *slog.Logger {
	if l.base != nil {
		return l.base
	}
	return l.Logger
}

// Close releases the file sink, if any. Child loggers share the parent's sink
// and are closed through the parent only.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
