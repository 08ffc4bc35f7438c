package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger provides structured logging for pipeline components
type ComponentLogger struct {
	logger zerolog.Logger
}

// NewComponentLogger creates a component-specific logger with consistent context
func NewComponentLogger(componentName, version string) *ComponentLogger {
	zerolog.TimeFieldFormat = time.RFC3339

	// Set log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Console output for development
	if os.Getenv("ENVIRONMENT") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		})
	}

	logger := log.With().
		Str("component", componentName).
		Str("version", version).
		Logger()

	return &ComponentLogger{
		logger: logger,
	}
}

// SetLevel overrides the global log level, used by the CLI --log-level flag.
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}

func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

// LogDownload logs the outcome of an archive download with structured fields
func (cl *ComponentLogger) LogDownload(url string, sizeBytes int64, attempts int, duration time.Duration) {
	cl.Info().
		Str("url", url).
		Int64("size_bytes", sizeBytes).
		Int("attempts", attempts).
		Dur("download_time", duration).
		Msg("Download completed")
}

// LogExtraction logs a completed table extraction
func (cl *ComponentLogger) LogExtraction(table string, rows int64, columns int, duration time.Duration) {
	cl.Info().
		Str("table", table).
		Int64("rows", rows).
		Int("columns", columns).
		Dur("extraction_time", duration).
		Msg("Table extraction completed")
}

// LogLoad logs a completed warehouse load
func (cl *ComponentLogger) LogLoad(table string, year int, rows int64, duration time.Duration) {
	cl.Info().
		Str("table", table).
		Int("year", year).
		Int64("rows", rows).
		Dur("load_time", duration).
		Msg("Staging load completed")
}
