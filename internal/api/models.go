// SPDX-License-Identifier: MIT
package api

import (
	"time"

	"scope/internal/scope"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"Build version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// SettingsBody is the division configuration in both raw and calibrated form.
type SettingsBody struct {
	VoltIndex        int     `json:"volt_index" doc:"Index into the volts-per-division table"`
	VoltsPerDivision float64 `json:"volts_per_division" doc:"Calibrated mV per division"`
	TimeExponent     int     `json:"time_exponent" doc:"Time per division is 10^time_exponent"`
	TimePerDivision  float64 `json:"time_per_division" doc:"Time per division"`
	SampleRate       float64 `json:"sample_rate" doc:"Sample rate in Hz"`
	BlockSize        int     `json:"block_size" doc:"Samples per block"`
	Ceiling          float64 `json:"ceiling" doc:"Overvoltage ceiling in mV"`
}

// StatusBody is a point-in-time view of the acquisition controller.
type StatusBody struct {
	State    string       `json:"state" enum:"idle,streaming" doc:"Acquisition state"`
	Session  string       `json:"session,omitempty" doc:"Current session identifier while streaming"`
	Settings SettingsBody `json:"settings"`
	Stats    scope.Stats  `json:"stats"`
}

// StatusResponse is returned by the status and stream endpoints.
type StatusResponse struct {
	Body StatusBody
}

// SettingsResponse is returned by the settings endpoints.
type SettingsResponse struct {
	Body SettingsBody
}

// VoltsPerDivisionRequest selects a volts-per-division entry.
type VoltsPerDivisionRequest struct {
	Body struct {
		Index int `json:"index" minimum:"0" maximum:"6" doc:"Index into 10, 20, 50, 100, 200, 500, 1000 mV/div"`
	}
}

// TimePerDivisionRequest selects a time-per-division exponent.
type TimePerDivisionRequest struct {
	Body struct {
		Exponent int `json:"exponent" minimum:"-3" maximum:"6" doc:"Time per division is 10^exponent"`
	}
}
