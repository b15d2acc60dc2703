// SPDX-License-Identifier: MIT

// Package transport delivers acquisition frames to external consumers.
package transport

import (
	"time"

	"github.com/google/uuid"

	"scope/internal/scope"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// FrameMessage is the JSON form of a frame sent to consumers.
type FrameMessage struct {
	Type              string    `json:"type"`
	Session           uuid.UUID `json:"session"`
	Seq               uint64    `json:"seq"`
	Captured          time.Time `json:"captured"`
	DominantFrequency float64   `json:"dominant_frequency"`
	PeakAmplitude     float64   `json:"peak_amplitude"`
	Alert             bool      `json:"alert"`
	VoltsPerDivision  float64   `json:"volts_per_division"`
	TimePerDivision   float64   `json:"time_per_division"`
	Voltage           []float64 `json:"voltage,omitempty"`
}

// ErrorMessage reports a device failure to consumers.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewFrameMessage converts f. The voltage block is only included when
// withSamples is set.
func NewFrameMessage(f scope.Frame, withSamples bool) FrameMessage {
	msg := FrameMessage{
		Type:              "frame",
		Session:           f.Session,
		Seq:               f.Seq,
		Captured:          f.Captured,
		DominantFrequency: f.Result.DominantFrequency,
		PeakAmplitude:     f.Result.PeakAmplitude,
		Alert:             f.Alert != nil,
		VoltsPerDivision:  f.Settings.VoltsPerDivision(),
		TimePerDivision:   f.Settings.TimePerDivision(),
	}
	if withSamples {
		msg.Voltage = f.Voltage
	}
	return msg
}

// Forward returns a frame handler that sends every frame to t. Send errors
// are passed to onErr when it is non-nil.
func Forward(t Transport, withSamples bool, onErr func(error)) scope.FrameHandler {
	return func(f scope.Frame) {
		if err := t.Send(NewFrameMessage(f, withSamples)); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// ForwardErrors returns a device error handler that sends an ErrorMessage to t.
func ForwardErrors(t Transport) scope.ErrorHandler {
	return func(err error) {
		_ = t.Send(ErrorMessage{Type: "error", Error: err.Error()})
	}
}
