// SPDX-License-Identifier: MIT
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_Defaults(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, 200.0, s.VoltsPerDivision())
	assert.Equal(t, 100.0, s.TimePerDivision())
	assert.Equal(t, 44100.0, s.SampleRate)
	assert.Equal(t, 1024, s.BlockSize)
	assert.Equal(t, 300.0, s.Ceiling)
}

func TestSettings_WithVoltIndex(t *testing.T) {
	s := DefaultSettings()
	for i, want := range VoltsPerDivision {
		got, err := s.WithVoltIndex(i)
		require.NoError(t, err)
		assert.Equal(t, want, got.VoltsPerDivision())
	}

	for _, bad := range []int{-1, 7, 100} {
		got, err := s.WithVoltIndex(bad)
		assert.ErrorIs(t, err, ErrInvalidVoltageIndex)
		assert.Equal(t, s, got, "receiver unchanged on error")
	}
}

func TestSettings_WithTimeExponent(t *testing.T) {
	s := DefaultSettings()

	got, err := s.WithTimeExponent(-3)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, got.TimePerDivision(), 1e-12)

	got, err = s.WithTimeExponent(6)
	require.NoError(t, err)
	assert.Equal(t, 1e6, got.TimePerDivision())

	for _, bad := range []int{-4, 7} {
		got, err := s.WithTimeExponent(bad)
		assert.ErrorIs(t, err, ErrInvalidTimeExponent)
		assert.Equal(t, s, got)
	}
}

func TestSettings_CopySemantics(t *testing.T) {
	s := DefaultSettings()
	changed, err := s.WithVoltIndex(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultVoltIndex, s.VoltIndex)
	assert.Equal(t, 0, changed.VoltIndex)
}
