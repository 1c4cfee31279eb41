package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error, disabled).
	Level string

	// Format is json or console.
	Format string

	// Output selects the stream: stdout or stderr.
	Output string

	// Caller adds the source file and line to every entry.
	Caller bool
}

// NewLogger builds a logger writing to stdout or stderr as cfg.Output says.
// Anything but "stdout" selects stderr, so lookup results on stdout stay clean.
// Unknown levels fall back to info.
func NewLogger(cfg LoggingConfig, stdout, stderr io.Writer) zerolog.Logger {
	w := stderr
	if strings.EqualFold(cfg.Output, "stdout") {
		w = stdout
	}

	if strings.EqualFold(cfg.Format, "console") || strings.EqualFold(cfg.Format, "pretty") {
		_, isFile := w.(*os.File)
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
			NoColor:    !isFile,
		}
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// ParseLevel converts a level name to a zerolog.Level. The empty string
// means info and "warning" is accepted for warn.
func ParseLevel(level string) (zerolog.Level, error) {
	switch s := strings.ToLower(strings.TrimSpace(level)); s {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	default:
		l, err := zerolog.ParseLevel(s)
		if err != nil {
			return zerolog.NoLevel, fmt.Errorf("invalid log level: %s", level)
		}
		return l, nil
	}
}

// WithBackend tags a logger with the response backend in use.
func WithBackend(logger zerolog.Logger, backend string) zerolog.Logger {
	return logger.With().Str("backend", backend).Logger()
}

// WithRequestContext adds the HTTP request ID to a logger.
func WithRequestContext(logger zerolog.Logger, requestID string) zerolog.Logger {
	return logger.With().Str("request_id", requestID).Logger()
}

// WithComponent tags a logger with the emitting component.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
