// Package log provides the process-wide structured logger used by every
// GAIA orchestration component.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once by Init.
var Logger zerolog.Logger

// Level represents a log verbosity level.
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

// Init initializes the global logger. Call once at process startup before
// any component logger is derived from it.
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

// WithComponent creates a child logger tagged with the given component name.
// Every long-lived loop (handoff coordinator, watchdog, sleep/wake manager,
// scheduler, promotion pipeline) should derive its logger this way.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorker creates a child logger tagged with a worker name.
func WithWorker(worker string) zerolog.Logger {
	return Logger.With().Str("worker", worker).Logger()
}

// WithHandoff creates a child logger tagged with a handoff ID.
func WithHandoff(handoffID string) zerolog.Logger {
	return Logger.With().Str("handoff_id", handoffID).Logger()
}

// WithService creates a child logger tagged with a cognitive service name.
func WithService(service string) zerolog.Logger {
	return Logger.With().Str("service", service).Logger()
}

func init() {
	// Sensible default so packages that log before main calls Init (e.g.
	// in tests) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}
