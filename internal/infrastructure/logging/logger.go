package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/browniz421/twinsync/internal/infrastructure/config"
)

// Logger wraps slog.Logger with twinsync default fields.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the destination named in cfg.Output.
//
// Parameters:
//   - cfg: Logging configuration
//   - service: Binary name recorded on every entry (twinhub, simdevice, twinctl)
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, service, version string) *Logger {
	return NewWithWriter(cfg, outputFor(cfg.Output), service, version)
}

// NewWithWriter creates a Logger that writes to w regardless of cfg.Output.
// Tests use it to capture records.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer, service, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func outputFor(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stderr":
		return os.Stderr
	case "discard", "none":
		return io.Discard
	default:
		return os.Stdout
	}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to info if unrecognised.
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	busLogger := logger.With("component", "bus")
//	busLogger.Info("connected") // Includes component=bus
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a logger for use before configuration is loaded.
// It writes JSON at info level to stdout.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "twinsync", "dev")
}

// Nop returns a logger that discards every record.
func Nop() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "error"}, io.Discard, "twinsync", "test")
}
