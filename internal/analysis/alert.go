// SPDX-License-Identifier: MIT
package analysis

// AlertEvent records a peak amplitude above the overvoltage ceiling.
type AlertEvent struct {
	Amplitude float64 `json:"amplitude"` // mV
	Ceiling   float64 `json:"ceiling"`   // mV
	Cycle     uint64  `json:"cycle"`     // Sequence of the cycle that raised it
}

// Evaluate reports an alert iff amplitude is strictly above ceiling. Cycle is
// left for the caller to stamp.
func Evaluate(amplitude, ceiling float64) (AlertEvent, bool) {
	if amplitude > ceiling {
		return AlertEvent{Amplitude: amplitude, Ceiling: ceiling}, true
	}
	return AlertEvent{}, false
}
