// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidVoltageIndex = errors.New("voltage per division index out of range")
	ErrInvalidTimeExponent = errors.New("time per division exponent out of range")
)

// Settings is the oscilloscope configuration observed by one acquisition
// cycle. Values are copied, never shared, so a cycle always sees a
// consistent snapshot.
type Settings struct {
	VoltIndex    int     `json:"volt_index"`    // Index into VoltsPerDivision
	TimeExponent int     `json:"time_exponent"` // Time per division is 10^TimeExponent
	SampleRate   float64 `json:"sample_rate"`   // Hz
	BlockSize    int     `json:"block_size"`    // Samples per block
	Ceiling      float64 `json:"ceiling"`       // Overvoltage ceiling in mV
}

// DefaultSettings returns the power-on settings: 200 mV/div, 100 per division.
func DefaultSettings() Settings {
	return Settings{
		VoltIndex:    DefaultVoltIndex,
		TimeExponent: DefaultTimeExponent,
		SampleRate:   SampleRate,
		BlockSize:    BlockSize,
		Ceiling:      OvervoltageCeiling,
	}
}

// VoltsPerDivision returns the calibrated mV/div value for the current index.
func (s Settings) VoltsPerDivision() float64 {
	return VoltsPerDivision[s.VoltIndex]
}

// TimePerDivision returns 10^TimeExponent.
func (s Settings) TimePerDivision() float64 {
	return math.Pow10(s.TimeExponent)
}

// WithVoltIndex returns a copy with the voltage index replaced. The receiver
// is returned unchanged alongside the error when the index is invalid.
func (s Settings) WithVoltIndex(index int) (Settings, error) {
	if err := ValidateVoltIndex(index); err != nil {
		return s, err
	}
	s.VoltIndex = index
	return s, nil
}

// WithTimeExponent returns a copy with the time exponent replaced.
func (s Settings) WithTimeExponent(exponent int) (Settings, error) {
	if err := ValidateTimeExponent(exponent); err != nil {
		return s, err
	}
	s.TimeExponent = exponent
	return s, nil
}

// Validate checks every field against its fixed set.
func (s Settings) Validate() error {
	if err := ValidateVoltIndex(s.VoltIndex); err != nil {
		return err
	}
	if err := ValidateTimeExponent(s.TimeExponent); err != nil {
		return err
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %f", s.SampleRate)
	}
	if s.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", s.BlockSize)
	}
	return nil
}

func ValidateVoltIndex(index int) error {
	if index < 0 || index >= len(VoltsPerDivision) {
		return fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidVoltageIndex, index, len(VoltsPerDivision)-1)
	}
	return nil
}

func ValidateTimeExponent(exponent int) error {
	if exponent < MinTimeExponent || exponent > MaxTimeExponent {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidTimeExponent, exponent, MinTimeExponent, MaxTimeExponent)
	}
	return nil
}
