// SPDX-License-Identifier: MIT
package transport

import (
	"github.com/rs/zerolog"

	applog "scope/internal/log"
)

// LoggingTransport implements the Transport interface by logging frame
// summaries at debug level.
type LoggingTransport struct {
	logger zerolog.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport(logger zerolog.Logger) *LoggingTransport {
	logger = applog.Component(logger, "log_transport")
	logger.Debug().Msg("Using LoggingTransport")
	return &LoggingTransport{logger: logger}
}

// Send logs the received data. It never fails.
func (lt *LoggingTransport) Send(data any) error {
	switch msg := data.(type) {
	case FrameMessage:
		lt.logger.Debug().
			Uint64("seq", msg.Seq).
			Float64("frequency_hz", msg.DominantFrequency).
			Float64("peak_mv", msg.PeakAmplitude).
			Bool("alert", msg.Alert).
			Msg("Frame")
	case ErrorMessage:
		lt.logger.Warn().Str("error", msg.Error).Msg("Device error")
	default:
		lt.logger.Debug().Interface("data", data).Msg("Received")
	}
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	lt.logger.Debug().Msg("Close called")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
