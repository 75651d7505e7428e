// Package obslog provides structured logging for the campus grid using zerolog.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// Component creates a child logger tagged with a component field. Manager,
// worker, sandbox, and store each get their own so log lines can be filtered
// by subsystem.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithWorkerID creates a child logger with a worker_id field.
func WithWorkerID(l zerolog.Logger, workerID string) zerolog.Logger {
	return l.With().Str("worker_id", workerID).Logger()
}

// WithJobID creates a child logger with a job_id field.
func WithJobID(l zerolog.Logger, jobID string) zerolog.Logger {
	return l.With().Str("job_id", jobID).Logger()
}
