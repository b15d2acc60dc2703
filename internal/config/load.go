// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	applog "scope/internal/log"
)

// EnvPrefix is prepended to every environment override, e.g. SCOPE_AUDIO_BACKEND.
const EnvPrefix = "SCOPE"

// Config is the runtime configuration of the oscilloscope process. It is
// assembled from defaults, an optional YAML file, SCOPE_* environment
// variables and command line flags, in increasing order of precedence.
type Config struct {
	Log       applog.Config   `mapstructure:"log" yaml:"log"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Scope     ScopeConfig     `mapstructure:"scope" yaml:"scope"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Alerting  AlertingConfig  `mapstructure:"alerting" yaml:"alerting"`

	Command string `mapstructure:"-" yaml:"-"` // One-off command (list, config) instead of running.
	TUIMode bool   `mapstructure:"-" yaml:"-"` // Interactive device browser for the list command.
}

// AudioConfig selects and parameterises the capture backend.
type AudioConfig struct {
	Backend           string        `mapstructure:"backend" yaml:"backend"`                       // portaudio, malgo, wav or tone.
	InputDevice       int           `mapstructure:"input_device" yaml:"input_device"`             // PortAudio device index (-1 for default).
	DeviceName        string        `mapstructure:"device_name" yaml:"device_name"`               // malgo device name substring.
	LowLatency        bool          `mapstructure:"low_latency" yaml:"low_latency"`               // Request low latency settings from PortAudio.
	WavFile           string        `mapstructure:"wav_file" yaml:"wav_file"`                     // Input file for the wav backend.
	WavLoop           bool          `mapstructure:"wav_loop" yaml:"wav_loop"`                     // Rewind the wav file at EOF instead of disconnecting.
	ToneFrequency     float64       `mapstructure:"tone_frequency" yaml:"tone_frequency"`         // Hz, tone backend.
	ToneAmplitude     float64       `mapstructure:"tone_amplitude" yaml:"tone_amplitude"`         // Fraction of full scale, tone backend.
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout" yaml:"disconnect_timeout"` // Silence after which a callback device counts as gone.
}

// ScopeConfig holds the initial oscilloscope settings and acquisition policy.
type ScopeConfig struct {
	VoltIndex      int           `mapstructure:"volt_index" yaml:"volt_index"`
	TimeExponent   int           `mapstructure:"time_exponent" yaml:"time_exponent"`
	Window         string        `mapstructure:"window" yaml:"window"`
	OverflowPolicy string        `mapstructure:"overflow_policy" yaml:"overflow_policy"`
	Period         time.Duration `mapstructure:"period" yaml:"period"`
	StartIdle      bool          `mapstructure:"start_idle" yaml:"start_idle"` // Wait for a start request instead of streaming at launch.
}

// TransportConfig holds settings for pushing frames to remote consumers.
type TransportConfig struct {
	WebSocketEnabled bool          `mapstructure:"websocket_enabled" yaml:"websocket_enabled"`
	WebSocketPath    string        `mapstructure:"websocket_path" yaml:"websocket_path"`
	UDPEnabled       bool          `mapstructure:"udp_enabled" yaml:"udp_enabled"`
	UDPTargetAddress string        `mapstructure:"udp_target_address" yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `mapstructure:"udp_send_interval" yaml:"udp_send_interval"`
}

// ServerConfig holds the HTTP control API settings.
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"` // CORS; empty disables
}

// AlertingConfig defines how overvoltage events leave the process.
type AlertingConfig struct {
	Cooldown       time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	WebhookURL     string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
}

// Load builds configuration from defaults, the file at path, SCOPE_*
// environment variables and the given overrides (dotted keys, typically
// from command line flags). When path is empty, config.yaml in the working
// directory is used if present.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v, path != ""); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper, explicit bool) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.caller", false)

	v.SetDefault("audio.backend", DefaultBackend)
	v.SetDefault("audio.input_device", DefaultDeviceID)
	v.SetDefault("audio.device_name", "")
	v.SetDefault("audio.low_latency", false)
	v.SetDefault("audio.wav_file", "")
	v.SetDefault("audio.wav_loop", false)
	v.SetDefault("audio.tone_frequency", DefaultToneFrequency)
	v.SetDefault("audio.tone_amplitude", DefaultToneAmplitude)
	v.SetDefault("audio.disconnect_timeout", DefaultDisconnectTimeout.String())

	v.SetDefault("scope.volt_index", DefaultVoltIndex)
	v.SetDefault("scope.time_exponent", DefaultTimeExponent)
	v.SetDefault("scope.window", DefaultWindow)
	v.SetDefault("scope.overflow_policy", DefaultOverflowPolicy)
	v.SetDefault("scope.period", DefaultCyclePeriod.String())
	v.SetDefault("scope.start_idle", false)

	v.SetDefault("transport.websocket_enabled", false)
	v.SetDefault("transport.websocket_path", DefaultWebSocketPath)
	v.SetDefault("transport.udp_enabled", false)
	v.SetDefault("transport.udp_target_address", DefaultUDPTarget)
	v.SetDefault("transport.udp_send_interval", DefaultUDPInterval.String())

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("alerting.cooldown", DefaultAlertCooldown.String())
	v.SetDefault("alerting.webhook_url", "")
	v.SetDefault("alerting.webhook_timeout", DefaultWebhookTimeout.String())
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Audio.Backend {
	case BackendPortAudio, BackendMalgo, BackendTone:
	case BackendWav:
		if c.Audio.WavFile == "" {
			return fmt.Errorf("audio.wav_file must be set for the wav backend")
		}
	default:
		return fmt.Errorf("audio.backend %q is not one of portaudio, malgo, wav, tone", c.Audio.Backend)
	}
	if c.Audio.InputDevice < MinDeviceID {
		return fmt.Errorf("audio.input_device must be >= %d, got %d", MinDeviceID, c.Audio.InputDevice)
	}
	if c.Audio.ToneAmplitude < 0 || c.Audio.ToneAmplitude > 1 {
		return fmt.Errorf("audio.tone_amplitude must be within [0, 1], got %f", c.Audio.ToneAmplitude)
	}
	if c.Audio.DisconnectTimeout <= 0 {
		return fmt.Errorf("audio.disconnect_timeout must be greater than zero")
	}

	if err := ValidateVoltIndex(c.Scope.VoltIndex); err != nil {
		return fmt.Errorf("scope.volt_index: %w", err)
	}
	if err := ValidateTimeExponent(c.Scope.TimeExponent); err != nil {
		return fmt.Errorf("scope.time_exponent: %w", err)
	}
	if c.Scope.Period <= 0 {
		return fmt.Errorf("scope.period must be greater than zero")
	}
	switch c.Scope.OverflowPolicy {
	case OverflowResync, OverflowSkip:
	default:
		return fmt.Errorf("scope.overflow_policy %q is not one of resync, skip", c.Scope.OverflowPolicy)
	}

	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if c.Transport.WebSocketEnabled && !c.Server.Enabled {
		return fmt.Errorf("transport.websocket_enabled requires server.enabled")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	return nil
}

// Settings returns the initial oscilloscope settings described by the config.
func (c *Config) Settings() Settings {
	s := DefaultSettings()
	s.VoltIndex = c.Scope.VoltIndex
	s.TimeExponent = c.Scope.TimeExponent
	return s
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}
