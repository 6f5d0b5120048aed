package log

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the API logger. Production output is uncolored and info-level.
func New(environment string) zerolog.Logger {
	level := "debug"
	if environment == "production" {
		level = "info"
	}
	return build(environment, level)
}

// NewWithLevel builds a logger with an explicit level, as used by the worker.
func NewWithLevel(environment, level string) zerolog.Logger {
	return build(environment, level)
}

func build(environment, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    environment == "production",
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("env", environment).
		Logger()

	zerolog.SetGlobalLevel(parseLevel(level))

	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
