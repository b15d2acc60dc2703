// SPDX-License-Identifier: MIT
package config

import "time"

// Core constants that define the fixed acquisition format and the defaults
// for the oscilloscope runtime.
const (
	// Fixed device format. These are not user configurable.
	SampleRate         = 44100 // Hz, mono
	BlockSize          = 1024  // Samples per acquisition cycle
	OvervoltageCeiling = 300   // mV, strict upper bound before alerting
	FullScale          = 32768 // 2^15, divisor for signed 16-bit samples

	// Division settings.
	MinTimeExponent     = -3
	MaxTimeExponent     = 6
	DefaultVoltIndex    = 4 // 200 mV/div
	DefaultTimeExponent = 2 // 100 per division

	// Default values for the runtime configuration.
	DefaultBackend           = BackendPortAudio
	DefaultDeviceID          = MinDeviceID // System default input device
	DefaultCyclePeriod       = 100 * time.Millisecond
	DefaultWindow            = "rectangular"
	DefaultOverflowPolicy    = OverflowResync
	DefaultDisconnectTimeout = time.Second
	DefaultToneFrequency     = 440.0
	DefaultToneAmplitude     = 0.5
	DefaultServerAddr        = "127.0.0.1:8080"
	DefaultWebSocketPath     = "/ws"
	DefaultUDPTarget         = "127.0.0.1:9090"
	DefaultUDPInterval       = 33 * time.Millisecond // ~30Hz
	DefaultAlertCooldown     = time.Second           // Matches the banner lifetime
	DefaultWebhookTimeout    = 5 * time.Second

	// Hardware limits.
	MinDeviceID = -1 // -1 represents system default device
)

// Capture backends.
const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
	BackendWav       = "wav"
	BackendTone      = "tone"
)

// Overflow policies applied when the device reports an input overflow.
const (
	OverflowResync = "resync" // Close and re-open the stream
	OverflowSkip   = "skip"   // Drop the block and keep reading
)

// VoltsPerDivision is the ordered set of selectable mV/div values.
var VoltsPerDivision = [...]float64{10, 20, 50, 100, 200, 500, 1000}
