package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is attached to every log line
const ServiceName = "adaptive-engine"

// InitLogger initializes the global logger on stdout
func InitLogger(level, format string) {
	InitLoggerTo(os.Stdout, level, format)
}

// InitLoggerTo initializes the global logger writing to out. Unknown levels
// fall back to info; format is "json" or "console".
func InitLoggerTo(out io.Writer, level, format string) {
	logLevel := parseLevel(level)
	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Logger = zerolog.New(logWriter(out, format)).
		With().
		Timestamp().
		Caller().
		Str("service", ServiceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("level", logLevel.String()).
		Str("format", format).
		Msg("Logger initialized")
}

func parseLevel(level string) zerolog.Level {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || logLevel == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return logLevel
}

func logWriter(out io.Writer, format string) io.Writer {
	if strings.EqualFold(format, "console") {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

// NewLogger creates a logger for a component
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewJobLogger creates a logger for one scheduled job of a symbol
func NewJobLogger(job, symbol string) zerolog.Logger {
	return log.With().
		Str("component", "job").
		Str("job", job).
		Str("symbol", symbol).
		Logger()
}
