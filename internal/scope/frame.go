// SPDX-License-Identifier: MIT
package scope

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"scope/internal/analysis"
	"scope/internal/config"
)

// State is the acquisition state of a Controller.
type State int32

const (
	Idle State = iota
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Frame is the result of one acquisition cycle. Frames are shared between
// consumers and must be treated as read-only.
type Frame struct {
	Session  uuid.UUID               `json:"session"`
	Seq      uint64                  `json:"seq"` // Increases by one per published cycle, across sessions
	Captured time.Time               `json:"captured"`
	Voltage  analysis.VoltageBlock   `json:"voltage"`
	Result   analysis.SpectralResult `json:"result"`
	Alert    *analysis.AlertEvent    `json:"alert,omitempty"`
	Settings config.Settings         `json:"settings"`
}

// Stats counts controller activity since construction.
type Stats struct {
	Sessions     uint64 `json:"sessions"`
	Published    uint64 `json:"published"`
	Dropped      uint64 `json:"dropped"` // Frames replaced in the mailbox before delivery
	Overflows    uint64 `json:"overflows"`
	Resyncs      uint64 `json:"resyncs"`
	Alerts       uint64 `json:"alerts"`
	DeviceErrors uint64 `json:"device_errors"`
}

// Status is a point-in-time view of a Controller.
type Status struct {
	State    State           `json:"state"`
	Session  *uuid.UUID      `json:"session,omitempty"`
	Settings config.Settings `json:"settings"`
	Stats    Stats           `json:"stats"`
}
