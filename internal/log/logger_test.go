// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"trace", zerolog.TraceLevel, true},
		{"debug", zerolog.DebugLevel, true},
		{"INFO", zerolog.InfoLevel, true},
		{" warn ", zerolog.WarnLevel, true},
		{"Warning", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"fatal", zerolog.FatalLevel, true},
		{"loud", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	defer SetLevel(zerolog.GlobalLevel())

	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	scoped := Component(logger, "scope")
	scoped.Warn().Int("cycle", 3).Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "scope", entry["component"])
	assert.Equal(t, float64(3), entry["cycle"])
	assert.Equal(t, "kept", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewWithWriter_UnknownLevel(t *testing.T) {
	defer SetLevel(zerolog.GlobalLevel())

	var buf bytes.Buffer
	NewWithWriter(Config{Level: "chatty", Format: "json"}, &buf)
	assert.Contains(t, buf.String(), "unknown log level")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
