// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"scope/internal/audio"
	"scope/internal/config"
	"scope/internal/scope"
)

// Controller is the control surface exposed over HTTP.
type Controller interface {
	Start() error
	Stop() error
	SetVoltagePerDivision(index int) error
	SetTimePerDivision(exponent int) error
	Settings() config.Settings
	Status() scope.Status
}

// Handler serves the control endpoints.
type Handler struct {
	ctrl    Controller
	version string
	logger  zerolog.Logger
}

// NewHandler creates a new control handler
func NewHandler(ctrl Controller, version string, logger zerolog.Logger) *Handler {
	return &Handler{ctrl: ctrl, version: version, logger: logger}
}

func (h *Handler) Health(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
	resp := &HealthResponse{}
	resp.Body.Status = "healthy"
	resp.Body.Version = h.version
	resp.Body.Time = time.Now()
	return resp, nil
}

func (h *Handler) Status(ctx context.Context, _ *struct{}) (*StatusResponse, error) {
	return &StatusResponse{Body: statusBody(h.ctrl.Status())}, nil
}

// StartStream opens the device and begins streaming.
func (h *Handler) StartStream(ctx context.Context, _ *struct{}) (*StatusResponse, error) {
	if err := h.ctrl.Start(); err != nil {
		switch {
		case errors.Is(err, scope.ErrAlreadyStreaming):
			return nil, huma.Error409Conflict("Acquisition is already streaming", err)
		case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, scope.ErrClosed):
			return nil, huma.Error503ServiceUnavailable("Audio device unavailable", err)
		default:
			h.logger.Error().Err(err).Msg("Start failed")
			return nil, huma.Error500InternalServerError("Failed to start acquisition", err)
		}
	}
	h.logger.Info().Msg("Streaming started via API")
	return &StatusResponse{Body: statusBody(h.ctrl.Status())}, nil
}

// StopStream stops streaming. Stopping an idle controller succeeds.
func (h *Handler) StopStream(ctx context.Context, _ *struct{}) (*StatusResponse, error) {
	if err := h.ctrl.Stop(); err != nil {
		h.logger.Warn().Err(err).Msg("Device close reported an error")
		return nil, huma.Error500InternalServerError("Failed to close audio device", err)
	}
	return &StatusResponse{Body: statusBody(h.ctrl.Status())}, nil
}

func (h *Handler) SetVoltsPerDivision(ctx context.Context, req *VoltsPerDivisionRequest) (*SettingsResponse, error) {
	if err := h.ctrl.SetVoltagePerDivision(req.Body.Index); err != nil {
		return nil, settingsError(err)
	}
	return &SettingsResponse{Body: settingsBody(h.ctrl.Settings())}, nil
}

func (h *Handler) SetTimePerDivision(ctx context.Context, req *TimePerDivisionRequest) (*SettingsResponse, error) {
	if err := h.ctrl.SetTimePerDivision(req.Body.Exponent); err != nil {
		return nil, settingsError(err)
	}
	return &SettingsResponse{Body: settingsBody(h.ctrl.Settings())}, nil
}

func settingsError(err error) error {
	if errors.Is(err, config.ErrInvalidVoltageIndex) || errors.Is(err, config.ErrInvalidTimeExponent) {
		return huma.Error422UnprocessableEntity(err.Error(), err)
	}
	return huma.Error500InternalServerError("Failed to update settings", err)
}

func statusBody(st scope.Status) StatusBody {
	body := StatusBody{
		State:    st.State.String(),
		Settings: settingsBody(st.Settings),
		Stats:    st.Stats,
	}
	if st.Session != nil {
		body.Session = st.Session.String()
	}
	return body
}

func settingsBody(s config.Settings) SettingsBody {
	return SettingsBody{
		VoltIndex:        s.VoltIndex,
		VoltsPerDivision: s.VoltsPerDivision(),
		TimeExponent:     s.TimeExponent,
		TimePerDivision:  s.TimePerDivision(),
		SampleRate:       s.SampleRate,
		BlockSize:        s.BlockSize,
		Ceiling:          s.Ceiling,
	}
}
