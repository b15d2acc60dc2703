// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"scope/cmd"
	"scope/internal/alerting"
	"scope/internal/analysis"
	"scope/internal/api"
	"scope/internal/audio"
	"scope/internal/config"
	applog "scope/internal/log"
	"scope/internal/scope"
	"scope/internal/transport"
	"scope/internal/transport/udp"
	"scope/internal/tui"
	"scope/pkg/build"
)

const shutdownTimeout = 5 * time.Second

// main is the entry point for the oscilloscope process.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase:
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Initialize PortAudio when the backend or command needs it
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase:
//   - Build the capture source and acquisition controller
//   - Attach frame consumers (log, alerts, WebSocket, UDP)
//   - Serve the HTTP control API
//   - Start streaming unless configured to start idle
//
// 3. Shutdown Phase:
//   - Handle termination signals or a lost device
//   - Stop the API, the controller and every consumer in order
func main() {
	// ==================== STARTUP PHASE ====================

	buildErr := build.Initialize()

	cfg, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg == nil {
		// Help or version output only.
		return
	}

	logger := applog.New(cfg.Log)
	if buildErr != nil {
		logger.Debug().Err(buildErr).Msg("Build metadata incomplete")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Audio.Backend == config.BackendPortAudio || cfg.Command == cmd.CommandList {
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer func() {
			if err := audio.Terminate(); err != nil {
				logger.Warn().Err(err).Msg("PortAudio termination failed")
			}
		}()
	}

	// Handle one-off commands that don't require the controller to be running
	if cfg.Command != cmd.CommandRun {
		return executeCommand(cfg)
	}

	// ==================== CONCURRENT PHASE ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := newSource(cfg.Audio)
	if err != nil {
		return err
	}
	window, err := analysis.ParseWindowFunc(cfg.Scope.Window)
	if err != nil {
		return err
	}

	ctrl, err := scope.NewController(src, scope.Options{
		Period:   cfg.Scope.Period,
		Window:   window,
		Overflow: cfg.Scope.OverflowPolicy,
		Settings: cfg.Settings(),
	}, logger)
	if err != nil {
		return err
	}

	ctrl.OnFrame(transport.Forward(transport.NewLoggingTransport(logger), false, nil))

	alerts, err := newAlertService(cfg.Alerting, logger)
	if err != nil {
		return err
	}
	ctrl.OnFrame(alerts.HandleFrame)

	var deviceErr error
	ctrl.OnDeviceError(func(err error) {
		logger.Error().Err(err).Msg("Acquisition stopped")
		if !cfg.Server.Enabled {
			// Nothing can restart acquisition without the API.
			deviceErr = err
			stop()
		}
	})

	var ws *transport.WebSocketTransport
	if cfg.Transport.WebSocketEnabled {
		ws = transport.NewWebSocketTransport(logger)
		ctrl.OnFrame(transport.Forward(ws, true, func(err error) {
			logger.Debug().Err(err).Msg("WebSocket send failed")
		}))
		ctrl.OnDeviceError(transport.ForwardErrors(ws))
	}

	var (
		publisher *udp.UDPPublisher
		sender    *udp.UDPSender
	)
	if cfg.Transport.UDPEnabled {
		sender, err = udp.NewUDPSender(cfg.Transport.UDPTargetAddress, logger)
		if err != nil {
			return err
		}
		publisher, err = udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, ctrl, logger)
		if err != nil {
			sender.Close()
			return err
		}
		publisher.Start()
	}

	var server *api.Server
	if cfg.Server.Enabled {
		opts := api.RouterOptions{
			Version:        build.GetBuildFlags().Version,
			WebSocketPath:  cfg.Transport.WebSocketPath,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}
		if ws != nil {
			opts.WebSocket = ws
		}
		router, _ := api.NewRouter(ctrl, opts, logger)
		server = api.NewServer(cfg.Server.Addr, router, logger)
		if err := server.Start(); err != nil {
			return err
		}
	}

	if !cfg.Scope.StartIdle {
		if err := ctrl.Start(); err != nil {
			if server == nil {
				return err
			}
			logger.Warn().Err(err).Msg("Initial start failed, waiting for a start request")
		}
	}

	logger.Info().
		Str("backend", cfg.Audio.Backend).
		Stringer("state", ctrl.State()).
		Str("version", build.GetBuildFlags().Version).
		Msg("Scope running, press Ctrl+C to exit")

	// Block until termination signal is received
	<-ctx.Done()

	// ==================== SHUTDOWN PHASE ====================

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if server != nil {
		errs = append(errs, server.Shutdown(shutdownCtx))
	}
	errs = append(errs, ctrl.Close())
	if publisher != nil {
		errs = append(errs, publisher.Stop(), sender.Close())
	}
	if ws != nil {
		errs = append(errs, ws.Close())
	}
	errs = append(errs, alerts.Close())

	stats := ctrl.Stats()
	logger.Info().
		Uint64("sessions", stats.Sessions).
		Uint64("published", stats.Published).
		Uint64("dropped", stats.Dropped).
		Uint64("overflows", stats.Overflows).
		Uint64("resyncs", stats.Resyncs).
		Uint64("alerts", stats.Alerts).
		Msg("Shutdown complete")

	alertStats := alerts.Stats()
	logger.Info().
		Uint64("sent", alertStats.Sent).
		Uint64("suppressed", alertStats.Suppressed).
		Uint64("dropped", alertStats.Dropped).
		Uint64("failed", alertStats.Failed).
		Msg("Alert delivery")

	return errors.Join(append(errs, deviceErr)...)
}

// newSource builds the capture source selected by the configuration.
func newSource(cfg config.AudioConfig) (audio.Source, error) {
	switch cfg.Backend {
	case config.BackendPortAudio:
		return audio.PortAudioSource{DeviceID: cfg.InputDevice, LowLatency: cfg.LowLatency}, nil
	case config.BackendMalgo:
		return audio.MalgoSource{DeviceName: cfg.DeviceName, DisconnectTimeout: cfg.DisconnectTimeout}, nil
	case config.BackendWav:
		return audio.WavSource{Path: cfg.WavFile, Loop: cfg.WavLoop}, nil
	case config.BackendTone:
		return audio.ToneSource{Frequency: cfg.ToneFrequency, Amplitude: cfg.ToneAmplitude}, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

func newAlertService(cfg config.AlertingConfig, logger zerolog.Logger) (*alerting.Service, error) {
	notifiers := []alerting.Notifier{alerting.NewLogNotifier(logger)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, logger))
	}
	return alerting.NewService(cfg.Cooldown, logger, notifiers...)
}

// executeCommand handles one-off commands that don't require the
// controller, such as listing input devices.
func executeCommand(cfg *config.Config) error {
	switch cfg.Command {
	case cmd.CommandList:
		if !cfg.TUIMode {
			return audio.ListDevices(os.Stdout)
		}
		id, ok, err := tui.StartDeviceListUI(audio.InputDevices)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Selected device %d. Run '%s --device %d' to use it.\n", id, build.GetBuildFlags().Name, id)
		}
		return nil
	case cmd.CommandConfig:
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}
