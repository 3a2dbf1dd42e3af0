// Package logging builds the process-wide console logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a leveled console logger writing to stderr.
//
// The level string is parsed case-insensitively ("debug", "info", "warn",
// "error", ...). An unknown level falls back to info and the mistake is
// logged once so a typo in LOGGING_LEVEL never silences the process.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(lvl).With().Timestamp().Logger()

	if err != nil {
		logger.Warn().Str("level", level).Msg("unknown log level, falling back to info")
	}
	return logger
}
