// SPDX-License-Identifier: MIT

// Package cmd parses the command line into a runtime configuration.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"scope/internal/config"
	"scope/pkg/build"
)

// Commands selected on the command line.
const (
	CommandRun    = ""
	CommandList   = "list"
	CommandConfig = "config"
)

// flagKeys maps flags onto configuration keys. Only flags set explicitly
// override the file and environment.
var flagKeys = map[string]string{
	"backend":        "audio.backend",
	"device":         "audio.input_device",
	"device-name":    "audio.device_name",
	"low-latency":    "audio.low_latency",
	"file":           "audio.wav_file",
	"loop":           "audio.wav_loop",
	"tone-frequency": "audio.tone_frequency",
	"volts":          "scope.volt_index",
	"time":           "scope.time_exponent",
	"window":         "scope.window",
	"overflow":       "scope.overflow_policy",
	"period":         "scope.period",
	"idle":           "scope.start_idle",
	"server":         "server.enabled",
	"addr":           "server.addr",
	"ws":             "transport.websocket_enabled",
	"udp":            "transport.udp_enabled",
	"udp-target":     "transport.udp_target_address",
	"webhook":        "alerting.webhook_url",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// ParseArgs parses args (without the program name) and loads the effective
// configuration. It returns a nil config without error when cobra handled
// the invocation itself, as with --help or --version.
func ParseArgs(args []string) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	var (
		cfgFile   string
		verbose   bool
		tuiMode   bool
		command   string
		selected  bool
		overrides = map[string]any{}
	)

	collect := func(cmd *cobra.Command, name string) {
		selected = true
		command = name
		fs := cmd.Flags()
		fs.Visit(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				overrides[key] = flagValue(fs, f)
			}
		})
		if verbose {
			if _, ok := overrides["log.level"]; !ok {
				overrides["log.level"] = "debug"
			}
		}
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			collect(cmd, CommandRun)
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collect(cmd, CommandList)
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&tuiMode, "tui", "t", false, "Browse devices interactively")
	rootCmd.AddCommand(listCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collect(cmd, CommandConfig)
			return nil
		},
	}
	rootCmd.AddCommand(configCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file (default ./config.yaml if present)")

	// Audio Device Configuration
	flags.StringP("backend", "b", config.DefaultBackend, "Capture backend: portaudio, malgo, wav or tone")
	flags.IntP("device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.String("device-name", "", "Capture device name substring (malgo backend)")
	flags.BoolP("low-latency", "l", false, "Use low latency mode for real-time processing")
	flags.StringP("file", "f", "", "WAV file to replay (wav backend)")
	flags.Bool("loop", false, "Rewind the WAV file at the end instead of disconnecting")
	flags.Float64("tone-frequency", config.DefaultToneFrequency, "Tone frequency in Hz (tone backend)")

	// Oscilloscope Configuration
	flags.Int("volts", config.DefaultVoltIndex, "Volts per division index, 0..6 (10..1000 mV/div)")
	flags.Int("time", config.DefaultTimeExponent, "Time per division exponent, -3..6")
	flags.String("window", config.DefaultWindow, "Analysis window applied before the FFT")
	flags.String("overflow", config.DefaultOverflowPolicy, "Input overflow policy: resync or skip")
	flags.Duration("period", config.DefaultCyclePeriod, "Acquisition cycle period")
	flags.Bool("idle", false, "Start idle and wait for a start request")

	// Outputs
	flags.Bool("server", false, "Serve the HTTP control API")
	flags.String("addr", config.DefaultServerAddr, "HTTP control API address")
	flags.Bool("ws", false, "Broadcast frames over WebSocket (requires --server)")
	flags.Bool("udp", false, "Publish frames over UDP")
	flags.String("udp-target", config.DefaultUDPTarget, "UDP target address")
	flags.String("webhook", "", "POST overvoltage alerts to this URL")

	// Debug Configuration
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if !selected {
		return nil, nil
	}

	cfg, err := config.Load(cfgFile, overrides)
	if err != nil {
		return nil, err
	}
	cfg.Command = command
	cfg.TUIMode = tuiMode
	return cfg, nil
}

func flagValue(fs *pflag.FlagSet, f *pflag.Flag) any {
	var (
		v   any
		err error
	)
	switch f.Value.Type() {
	case "int":
		v, err = fs.GetInt(f.Name)
	case "bool":
		v, err = fs.GetBool(f.Name)
	case "float64":
		v, err = fs.GetFloat64(f.Name)
	case "duration":
		v, err = fs.GetDuration(f.Name)
	default:
		return f.Value.String()
	}
	if err != nil {
		return f.Value.String()
	}
	return v
}
