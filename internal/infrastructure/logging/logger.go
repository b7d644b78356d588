package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/scada-overlay/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "scada-overlay"

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[REDACTED]"

// secretKeys are attribute keys whose values never reach the output.
var secretKeys = []string{"token", "password", "authorization", "secret"}

// Logger is the slog logger every component of the overlay logs through.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the service logger from the logging section. Output "stderr"
// selects standard error; anything else logs to standard output.
func New(cfg config.LoggingConfig, version string) *Logger {
	output := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return &Logger{Logger: slog.New(newHandler(output, cfg, version))}
}

// newHandler builds the handler writing to w. Text output is for a
// terminal; everything else is JSON.
func newHandler(w io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
}

// redact hides the value of secret-looking attributes, matched on a
// case-insensitive substring of the key.
func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// parseLevel maps debug, info, warn(ing) and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with the component name,
// e.g. logger.Component("cache").
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before configuration is loaded: JSON on
// standard output at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
