// SPDX-License-Identifier: MIT
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error, fatal.
	Format string `mapstructure:"format" yaml:"format"` // json or console.
	Caller bool   `mapstructure:"caller" yaml:"caller"` // Annotate entries with file:line.
}

// ParseLevel converts a string (case-insensitive) to a zerolog level.
// Returns zerolog.InfoLevel and false if the string is not recognized.
func ParseLevel(levelStr string) (zerolog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return zerolog.TraceLevel, true
	case "DEBUG":
		return zerolog.DebugLevel, true
	case "INFO":
		return zerolog.InfoLevel, true
	case "WARN", "WARNING":
		return zerolog.WarnLevel, true
	case "ERROR":
		return zerolog.ErrorLevel, true
	case "FATAL":
		return zerolog.FatalLevel, true
	default:
		return zerolog.InfoLevel, false // Default to Info on parse error
	}
}

// SetLevel sets the global logging level. Loggers built by New never log
// below this level regardless of their own setting.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// New constructs a zerolog logger from config and applies its level globally.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, ok := ParseLevel(cfg.Level)
	SetLevel(level)

	writer := out
	if strings.EqualFold(cfg.Format, "console") {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	builder := zerolog.New(writer).Level(level).With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}
	logger := builder.Logger()

	if !ok && cfg.Level != "" {
		logger.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
	}
	return logger
}

// Component returns a child logger tagged with the component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
