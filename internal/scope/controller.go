// SPDX-License-Identifier: MIT
/*
Package scope runs the acquisition cycle of the oscilloscope.

A Controller owns one audio stream while Streaming. Every period it reads a
block, scales it to voltages using the current settings, extracts the
dominant frequency and peak amplitude, and evaluates the overvoltage
ceiling. Each completed cycle becomes a Frame that is handed through a
single-slot mailbox to a dispatcher goroutine, which invokes the registered
frame handlers. Handlers therefore never run on the acquisition goroutine
and a slow handler only causes intermediate frames to be skipped.

	Idle --Start--> Streaming --Stop--> Idle
	Streaming --device disconnected--> Idle
*/
package scope

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scope/internal/analysis"
	"scope/internal/audio"
	"scope/internal/config"
	applog "scope/internal/log"
)

var (
	// ErrAlreadyStreaming is returned by Start while a session is active.
	ErrAlreadyStreaming = errors.New("acquisition already streaming")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("controller closed")
)

// FrameHandler receives every delivered frame on the dispatcher goroutine.
type FrameHandler func(Frame)

// ErrorHandler receives the error that ended a session.
type ErrorHandler func(error)

// Options configure a Controller.
type Options struct {
	Period   time.Duration       // Cycle period, config.DefaultCyclePeriod when zero
	Window   analysis.WindowFunc // Window applied before the FFT
	Overflow string              // config.OverflowResync (default) or config.OverflowSkip
	Settings config.Settings     // Initial settings, config.DefaultSettings() when zero
}

// Controller is the acquisition state machine. All methods are safe for
// concurrent use.
type Controller struct {
	source   audio.Source
	analyzer *analysis.SpectralAnalyzer
	period   time.Duration
	overflow string
	logger   zerolog.Logger

	settings atomic.Pointer[config.Settings]
	setMu    sync.Mutex // Serialises setters

	mu           sync.Mutex // Guards state, session, lastDispatch and closed
	state        State
	session      *session
	lastDispatch chan struct{} // Closed when the most recent dispatcher exits
	closed       bool

	handlersMu    sync.RWMutex
	frameHandlers []FrameHandler
	errorHandlers []ErrorHandler

	latest atomic.Pointer[Frame]
	seq    atomic.Uint64

	sessions     atomic.Uint64
	published    atomic.Uint64
	dropped      atomic.Uint64
	overflows    atomic.Uint64
	resyncs      atomic.Uint64
	alerts       atomic.Uint64
	deviceErrors atomic.Uint64
}

type session struct {
	id         uuid.UUID
	stream     audio.Stream // Owned by the acquisition goroutine
	done       chan struct{}
	stopOnce   sync.Once
	exited     chan struct{}
	dispatched chan struct{}
	mailbox    *mailbox
	err        error // Terminal error, set before the mailbox closes
	closeErr   error // Stream close error, set before exited closes
}

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// NewController validates opts and returns an Idle controller reading from src.
func NewController(src audio.Source, opts Options, logger zerolog.Logger) (*Controller, error) {
	if src == nil {
		return nil, errors.New("audio source is required")
	}

	if opts.Period == 0 {
		opts.Period = config.DefaultCyclePeriod
	}
	if opts.Period < 0 {
		return nil, fmt.Errorf("cycle period must be positive, got %s", opts.Period)
	}

	switch opts.Overflow {
	case "":
		opts.Overflow = config.DefaultOverflowPolicy
	case config.OverflowResync, config.OverflowSkip:
	default:
		return nil, fmt.Errorf("unknown overflow policy %q", opts.Overflow)
	}

	if opts.Settings == (config.Settings{}) {
		opts.Settings = config.DefaultSettings()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	analyzer, err := analysis.NewSpectralAnalyzer(opts.Settings.BlockSize, opts.Settings.SampleRate, opts.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to create spectral analyzer: %w", err)
	}

	c := &Controller{
		source:   src,
		analyzer: analyzer,
		period:   opts.Period,
		overflow: opts.Overflow,
		logger:   applog.Component(logger, "scope"),
	}
	settings := opts.Settings
	c.settings.Store(&settings)

	c.logger.Debug().
		Dur("period", c.period).
		Str("overflow", c.overflow).
		Stringer("window", c.analyzer.Window()).
		Int("fft_size", c.analyzer.Size()).
		Float64("sample_rate", c.analyzer.SampleRate()).
		Msg("Controller created")

	return c, nil
}

// OnFrame registers a handler for delivered frames.
func (c *Controller) OnFrame(h FrameHandler) {
	c.handlersMu.Lock()
	c.frameHandlers = append(c.frameHandlers, h)
	c.handlersMu.Unlock()
}

// OnDeviceError registers a handler for errors that end a session.
func (c *Controller) OnDeviceError(h ErrorHandler) {
	c.handlersMu.Lock()
	c.errorHandlers = append(c.errorHandlers, h)
	c.handlersMu.Unlock()
}

// Start opens the source and begins cycling. It fails with
// ErrAlreadyStreaming if a session is active, or with an error wrapping
// audio.ErrDeviceUnavailable if the source cannot be opened, in which case
// the controller stays Idle.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state == Streaming {
		return ErrAlreadyStreaming
	}

	settings := c.settings.Load()
	stream, err := c.open(settings)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to open audio source")
		return err
	}

	s := &session{
		id:         uuid.New(),
		stream:     stream,
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
		dispatched: make(chan struct{}),
		mailbox:    newMailbox(),
	}
	prev := c.lastDispatch
	c.lastDispatch = s.dispatched
	c.session = s
	c.state = Streaming
	c.sessions.Add(1)

	go c.dispatch(s, prev)
	go c.run(s)

	c.logger.Info().Str("session", s.id.String()).Msg("Acquisition started")
	return nil
}

// Stop ends the active session and returns once the stream is closed. A
// cycle in progress finishes its read and is discarded. Stop on an Idle
// controller does nothing.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	s.stop()
	c.mu.Unlock()

	<-s.exited
	return s.closeErr
}

// Close stops acquisition and waits until every handler call has returned.
// The controller cannot be restarted afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.Stop()

	c.mu.Lock()
	last := c.lastDispatch
	c.mu.Unlock()

	if last != nil {
		<-last
	}
	return err
}

// State returns the current acquisition state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Settings returns a copy of the current settings.
func (c *Controller) Settings() config.Settings {
	return *c.settings.Load()
}

// SetVoltagePerDivision selects config.VoltsPerDivision[index] from the
// next cycle on. An invalid index leaves the settings unchanged.
func (c *Controller) SetVoltagePerDivision(index int) error {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	next, err := c.settings.Load().WithVoltIndex(index)
	if err != nil {
		return err
	}
	c.settings.Store(&next)
	c.logger.Info().Int("index", index).Float64("mv_per_div", next.VoltsPerDivision()).Msg("Voltage per division changed")
	return nil
}

// SetTimePerDivision sets time per division to 10^exponent from the next
// cycle on. An invalid exponent leaves the settings unchanged.
func (c *Controller) SetTimePerDivision(exponent int) error {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	next, err := c.settings.Load().WithTimeExponent(exponent)
	if err != nil {
		return err
	}
	c.settings.Store(&next)
	c.logger.Info().Int("exponent", exponent).Float64("per_div", next.TimePerDivision()).Msg("Time per division changed")
	return nil
}

// Latest returns the most recently produced frame, if any.
func (c *Controller) Latest() (Frame, bool) {
	f := c.latest.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// Stats returns a snapshot of the activity counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Sessions:     c.sessions.Load(),
		Published:    c.published.Load(),
		Dropped:      c.dropped.Load(),
		Overflows:    c.overflows.Load(),
		Resyncs:      c.resyncs.Load(),
		Alerts:       c.alerts.Load(),
		DeviceErrors: c.deviceErrors.Load(),
	}
}

// Status returns state, session, settings and counters together.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state}
	if c.session != nil {
		id := c.session.id
		st.Session = &id
	}
	c.mu.Unlock()

	st.Settings = c.Settings()
	st.Stats = c.Stats()
	return st
}

func (c *Controller) open(settings *config.Settings) (audio.Stream, error) {
	stream, err := c.source.Open(settings.SampleRate, settings.BlockSize)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return nil, err
	}
	return stream, nil
}

// run is the acquisition loop of one session.
func (c *Controller) run(s *session) {
	log := c.logger.With().Str("session", s.id.String()).Logger()

	defer func() {
		if err := s.stream.Close(); err != nil {
			s.closeErr = err
			log.Warn().Err(err).Msg("Failed to close audio stream")
		}

		c.mu.Lock()
		if c.session == s {
			c.session = nil
			c.state = Idle
		}
		c.mu.Unlock()

		s.mailbox.close()
		close(s.exited)

		stats := c.Stats()
		log.Info().
			Uint64("published", stats.Published).
			Uint64("dropped", stats.Dropped).
			Uint64("overflows", stats.Overflows).
			Uint64("resyncs", stats.Resyncs).
			Msg("Acquisition stopped")
	}()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		if !c.cycle(s, log) {
			return
		}
	}
}

// cycle performs one read-scale-analyze-evaluate pass. It returns false when
// the session must end.
func (c *Controller) cycle(s *session, log zerolog.Logger) bool {
	settings := *c.settings.Load()

	raw, err := s.stream.Read()
	if err != nil {
		return c.handleReadError(s, settings, err, log)
	}

	select {
	case <-s.done:
		return false
	default:
	}

	voltage := analysis.Scale(raw, settings.VoltsPerDivision())
	result := c.analyzer.Analyze(voltage)
	seq := c.seq.Add(1)

	frame := Frame{
		Session:  s.id,
		Seq:      seq,
		Captured: time.Now(),
		Voltage:  voltage,
		Result:   result,
		Settings: settings,
	}
	if ev, ok := analysis.Evaluate(result.PeakAmplitude, settings.Ceiling); ok {
		ev.Cycle = seq
		frame.Alert = &ev
		c.alerts.Add(1)
		log.Warn().
			Uint64("seq", seq).
			Float64("amplitude_mv", ev.Amplitude).
			Float64("ceiling_mv", ev.Ceiling).
			Msg("Overvoltage")
	}

	c.latest.Store(&frame)
	c.published.Add(1)
	if s.mailbox.put(frame) {
		c.dropped.Add(1)
	}

	log.Debug().
		Uint64("seq", seq).
		Float64("frequency_hz", result.DominantFrequency).
		Float64("peak_mv", result.PeakAmplitude).
		Msg("Cycle")
	return true
}

func (c *Controller) handleReadError(s *session, settings config.Settings, err error, log zerolog.Logger) bool {
	if !errors.Is(err, audio.ErrReadOverflow) {
		if !errors.Is(err, audio.ErrDeviceDisconnected) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceDisconnected, err)
		}
		c.deviceErrors.Add(1)
		s.err = err
		log.Error().Err(err).Msg("Audio device lost")
		return false
	}

	c.overflows.Add(1)
	if c.overflow == config.OverflowSkip {
		log.Debug().Msg("Input overflow, block skipped")
		return true
	}

	if cerr := s.stream.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("Failed to close overflowed stream")
	}
	stream, oerr := c.open(&settings)
	if oerr != nil {
		c.deviceErrors.Add(1)
		s.err = fmt.Errorf("resync after overflow: %w", oerr)
		log.Error().Err(oerr).Msg("Resync failed")
		return false
	}
	s.stream = stream
	c.resyncs.Add(1)
	log.Info().Msg("Input overflow, stream resynchronised")
	return true
}

// dispatch delivers frames of one session in order, after every frame of
// the previous session has been delivered.
func (c *Controller) dispatch(s *session, prev <-chan struct{}) {
	defer close(s.dispatched)

	if prev != nil {
		<-prev
	}

	for {
		frame, ok, closed := s.mailbox.take()
		if ok {
			c.deliverFrame(frame)
			continue
		}
		if closed {
			break
		}
		<-s.mailbox.signal
	}

	if s.err != nil {
		c.deliverError(s.err)
	}
}

func (c *Controller) deliverFrame(f Frame) {
	c.handlersMu.RLock()
	handlers := c.frameHandlers
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.safeCall(func() { h(f) })
	}
}

func (c *Controller) deliverError(err error) {
	c.handlersMu.RLock()
	handlers := c.errorHandlers
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.safeCall(func() { h(err) })
	}
}

func (c *Controller) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Handler panicked")
		}
	}()
	fn()
}
