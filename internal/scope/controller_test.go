// SPDX-License-Identifier: MIT
package scope

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scope/internal/audio"
	"scope/internal/config"
)

const (
	testPeriod  = 2 * time.Millisecond
	waitFor     = 2 * time.Second
	pollEvery   = time.Millisecond
	blockLength = config.BlockSize
)

// fakeSource is a scriptable audio.Source. Reads consume the script in
// order, across streams; an exhausted script yields blocks of fill.
type fakeSource struct {
	mu       sync.Mutex
	fill     int16
	script   []error
	openErrs []error // Consumed one per Open
	opens    int
	closes   int
	open     int // Streams currently open
	maxOpen  int
}

func (f *fakeSource) Open(sampleRate float64, blockSize int) (audio.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sampleRate != config.SampleRate || blockSize != blockLength {
		return nil, fmt.Errorf("unexpected format %f/%d", sampleRate, blockSize)
	}
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.opens++
	f.open++
	f.maxOpen = max(f.maxOpen, f.open)
	return &fakeStream{src: f, size: blockSize}, nil
}

func (f *fakeSource) setFill(v int16) {
	f.mu.Lock()
	f.fill = v
	f.mu.Unlock()
}

func (f *fakeSource) counts() (opens, closes, open, maxOpen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes, f.open, f.maxOpen
}

type fakeStream struct {
	src    *fakeSource
	size   int
	closed bool
}

func (s *fakeStream) Read() (audio.RawBlock, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.closed {
		return nil, audio.ErrDeviceDisconnected
	}
	if len(s.src.script) > 0 {
		err := s.src.script[0]
		s.src.script = s.src.script[1:]
		if err != nil {
			return nil, err
		}
	}
	block := make(audio.RawBlock, s.size)
	for i := range block {
		block[i] = s.src.fill
	}
	return block, nil
}

func (s *fakeStream) Close() error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.src.closes++
	s.src.open--
	return nil
}

// frameRecorder collects delivered frames and device errors.
type frameRecorder struct {
	mu     sync.Mutex
	frames []Frame
	errs   []error
}

func (r *frameRecorder) attach(c *Controller) {
	c.OnFrame(func(f Frame) {
		r.mu.Lock()
		r.frames = append(r.frames, f)
		r.mu.Unlock()
	})
	c.OnDeviceError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *frameRecorder) seen(session uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f.Session == session {
			return true
		}
	}
	return false
}

func (r *frameRecorder) snapshot() ([]Frame, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...), append([]error(nil), r.errs...)
}

func newTestController(t *testing.T, src audio.Source, overflow string) (*Controller, *frameRecorder) {
	t.Helper()
	c, err := NewController(src, Options{Period: testPeriod, Overflow: overflow}, zerolog.Nop())
	require.NoError(t, err)
	rec := &frameRecorder{}
	rec.attach(c)
	t.Cleanup(func() { c.Close() })
	return c, rec
}

func TestNewController_Validation(t *testing.T) {
	src := &fakeSource{}

	_, err := NewController(nil, Options{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewController(src, Options{Overflow: "ignore"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewController(src, Options{Period: -time.Second}, zerolog.Nop())
	assert.Error(t, err)

	bad := config.DefaultSettings()
	bad.VoltIndex = 9
	_, err = NewController(src, Options{Settings: bad}, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidVoltageIndex)

	bad = config.DefaultSettings()
	bad.BlockSize = 1000
	_, err = NewController(src, Options{Settings: bad}, zerolog.Nop())
	assert.Error(t, err)

	c, err := NewController(src, Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, config.DefaultSettings(), c.Settings())
	assert.Equal(t, 200.0, c.Settings().VoltsPerDivision())
}

func TestController_StartStop(t *testing.T) {
	src := &fakeSource{fill: 1000}
	c, rec := newTestController(t, src, "")

	require.NoError(t, c.Stop(), "Stop on Idle is a no-op")
	assert.Equal(t, Idle, c.State())

	require.NoError(t, c.Start())
	assert.Equal(t, Streaming, c.State())
	require.NotNil(t, c.Status().Session)

	require.Eventually(t, func() bool { return rec.count() >= 3 }, waitFor, pollEvery)

	require.NoError(t, c.Stop())
	assert.Equal(t, Idle, c.State())
	assert.Nil(t, c.Status().Session)

	opens, closes, open, _ := src.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, open, "stream closed before Stop returns")

	require.NoError(t, c.Stop(), "second Stop is a no-op")
	frames, errs := rec.snapshot()
	assert.Empty(t, errs)

	f := frames[0]
	assert.Len(t, f.Voltage, blockLength)
	assert.InDelta(t, 200*1000.0/32768, f.Voltage[0], 1e-12)
	assert.InDelta(t, 200*1000.0/32768, f.Result.PeakAmplitude, 1e-12)
	assert.Equal(t, 0.0, f.Result.DominantFrequency, "constant block is all DC")
	assert.Nil(t, f.Alert)
}

func TestController_StartWhileStreaming(t *testing.T) {
	src := &fakeSource{}
	c, _ := newTestController(t, src, "")

	require.NoError(t, c.Start())
	err := c.Start()
	assert.ErrorIs(t, err, ErrAlreadyStreaming)

	opens, _, _, _ := src.counts()
	assert.Equal(t, 1, opens, "device must not be opened twice")
	assert.Equal(t, Streaming, c.State())
}

func TestController_StartDeviceUnavailable(t *testing.T) {
	src := &fakeSource{openErrs: []error{errors.New("no such device")}}
	c, _ := newTestController(t, src, "")

	err := c.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	assert.Equal(t, Idle, c.State())

	// The device comes back.
	require.NoError(t, c.Start())
	assert.Equal(t, Streaming, c.State())
}

func TestController_DeviceDisconnected(t *testing.T) {
	src := &fakeSource{script: []error{nil, nil, fmt.Errorf("%w: unplugged", audio.ErrDeviceDisconnected)}}
	c, rec := newTestController(t, src, "")

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return c.State() == Idle }, waitFor, pollEvery)

	require.Eventually(t, func() bool {
		_, errs := rec.snapshot()
		return len(errs) == 1
	}, waitFor, pollEvery)

	frames, errs := rec.snapshot()
	assert.ErrorIs(t, errs[0], audio.ErrDeviceDisconnected)
	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Published, "no frame from the failed read")
	assert.Len(t, frames, int(stats.Published-stats.Dropped))

	_, closes, open, _ := src.counts()
	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, open)
	assert.Equal(t, uint64(1), c.Stats().DeviceErrors)

	require.NoError(t, c.Stop())
}

func TestController_UnknownReadErrorEndsSession(t *testing.T) {
	src := &fakeSource{script: []error{errors.New("driver fault")}}
	c, rec := newTestController(t, src, "")

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		_, errs := rec.snapshot()
		return len(errs) == 1
	}, waitFor, pollEvery)

	_, errs := rec.snapshot()
	assert.ErrorIs(t, errs[0], audio.ErrDeviceDisconnected)
	assert.Equal(t, Idle, c.State())
}

func TestController_OverflowResync(t *testing.T) {
	src := &fakeSource{script: []error{nil, audio.ErrReadOverflow}}
	c, rec := newTestController(t, src, config.OverflowResync)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return rec.count() >= 3 }, waitFor, pollEvery)
	assert.Equal(t, Streaming, c.State())

	require.NoError(t, c.Stop())

	opens, closes, open, maxOpen := src.counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 2, closes)
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, maxOpen, "old stream closed before reopening")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Overflows)
	assert.Equal(t, uint64(1), stats.Resyncs)
	_, errs := rec.snapshot()
	assert.Empty(t, errs)
}

func TestController_OverflowSkip(t *testing.T) {
	src := &fakeSource{script: []error{audio.ErrReadOverflow, audio.ErrReadOverflow}}
	c, rec := newTestController(t, src, config.OverflowSkip)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return rec.count() >= 2 }, waitFor, pollEvery)
	require.NoError(t, c.Stop())

	opens, _, _, _ := src.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, uint64(2), c.Stats().Overflows)
	assert.Zero(t, c.Stats().Resyncs)
}

func TestController_ResyncFailure(t *testing.T) {
	src := &fakeSource{
		script:   []error{audio.ErrReadOverflow},
		openErrs: []error{nil, errors.New("device busy")},
	}
	c, rec := newTestController(t, src, config.OverflowResync)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		_, errs := rec.snapshot()
		return len(errs) == 1
	}, waitFor, pollEvery)

	_, errs := rec.snapshot()
	assert.ErrorIs(t, errs[0], audio.ErrDeviceUnavailable)
	assert.Equal(t, Idle, c.State())

	_, _, open, _ := src.counts()
	assert.Equal(t, 0, open)
}

func TestController_Setters(t *testing.T) {
	src := &fakeSource{fill: 16384}
	c, rec := newTestController(t, src, "")

	before := c.Settings()
	assert.ErrorIs(t, c.SetVoltagePerDivision(7), config.ErrInvalidVoltageIndex)
	assert.ErrorIs(t, c.SetVoltagePerDivision(-1), config.ErrInvalidVoltageIndex)
	assert.ErrorIs(t, c.SetTimePerDivision(-4), config.ErrInvalidTimeExponent)
	assert.ErrorIs(t, c.SetTimePerDivision(7), config.ErrInvalidTimeExponent)
	assert.Equal(t, before, c.Settings(), "rejected values leave settings unchanged")

	require.NoError(t, c.SetTimePerDivision(-3))
	assert.InDelta(t, 0.001, c.Settings().TimePerDivision(), 1e-12)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return rec.count() >= 1 }, waitFor, pollEvery)

	require.NoError(t, c.SetVoltagePerDivision(6))
	assert.Equal(t, 1000.0, c.Settings().VoltsPerDivision())

	// Every frame uses one coherent snapshot; later frames use 1000 mV/div.
	require.Eventually(t, func() bool {
		f, ok := c.Latest()
		return ok && f.Settings.VoltIndex == 6
	}, waitFor, pollEvery)
	require.NoError(t, c.Stop())

	frames, _ := rec.snapshot()
	for _, f := range frames {
		want := f.Settings.VoltsPerDivision() * 16384 / 32768
		assert.InDelta(t, want, f.Voltage[0], 1e-9, "frame %d", f.Seq)
	}
	last, _ := c.Latest()
	assert.InDelta(t, 500.0, last.Voltage[0], 1e-9)
}

func TestController_ConcurrentSetters(t *testing.T) {
	src := &fakeSource{fill: 100}
	c, rec := newTestController(t, src, "")
	require.NoError(t, c.Start())

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				_ = c.SetVoltagePerDivision((g + i) % len(config.VoltsPerDivision))
				_ = c.SetTimePerDivision((g+i)%10 - 3)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return rec.count() >= 2 }, waitFor, pollEvery)
	require.NoError(t, c.Stop())

	frames, _ := rec.snapshot()
	for _, f := range frames {
		require.NoError(t, f.Settings.Validate())
		assert.InDelta(t, f.Settings.VoltsPerDivision()*100/32768, f.Voltage[0], 1e-9)
	}
}

func TestController_Alert(t *testing.T) {
	src := &fakeSource{fill: 10000}
	c, err := NewController(src, Options{Period: testPeriod}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	rec := &frameRecorder{}
	rec.attach(c)

	require.NoError(t, c.SetVoltagePerDivision(6))
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return rec.count() >= 1 }, waitFor, pollEvery)
	require.NoError(t, c.Stop())

	frames, _ := rec.snapshot()
	f := frames[0]
	require.NotNil(t, f.Alert)
	assert.InDelta(t, 1000*10000.0/32768, f.Alert.Amplitude, 1e-9)
	assert.Equal(t, 300.0, f.Alert.Ceiling)
	assert.Equal(t, f.Seq, f.Alert.Cycle)
	assert.GreaterOrEqual(t, c.Stats().Alerts, uint64(1))

	// Full scale at 200 mV/div stays below the ceiling.
	src.setFill(math.MaxInt16)
	require.NoError(t, c.SetVoltagePerDivision(4))
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		f, ok := c.Latest()
		return ok && f.Settings.VoltIndex == 4
	}, waitFor, pollEvery)
	require.NoError(t, c.Stop())

	last, _ := c.Latest()
	assert.InDelta(t, 199.99, last.Result.PeakAmplitude, 0.01)
	assert.Nil(t, last.Alert)
}

func TestController_FramesInOrderAcrossSessions(t *testing.T) {
	src := &fakeSource{}
	c, rec := newTestController(t, src, "")

	for range 3 {
		require.NoError(t, c.Start())
		id := *c.Status().Session
		require.Eventually(t, func() bool { return rec.seen(id) }, waitFor, pollEvery)
		require.NoError(t, c.Stop())
	}
	require.NoError(t, c.Close())

	frames, _ := rec.snapshot()
	sessions := map[string]bool{}
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Seq, frames[i-1].Seq, "frame %d delivered out of order", i)
	}
	for _, f := range frames {
		sessions[f.Session.String()] = true
	}
	assert.Len(t, sessions, 3)
	assert.Equal(t, uint64(3), c.Stats().Sessions)
}

func TestController_SlowHandlerDropsIntermediateFrames(t *testing.T) {
	src := &fakeSource{}
	c, err := NewController(src, Options{Period: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	var mu sync.Mutex
	var seqs []uint64
	c.OnFrame(func(f Frame) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
	})

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return c.Stats().Published >= 30 }, waitFor, pollEvery)
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	stats := c.Stats()
	assert.Positive(t, stats.Dropped)
	assert.Equal(t, stats.Published, uint64(len(seqs))+stats.Dropped)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestController_HandlerPanicRecovered(t *testing.T) {
	src := &fakeSource{}
	c, rec := newTestController(t, src, "")
	c.OnFrame(func(Frame) { panic("consumer bug") })

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return rec.count() >= 3 }, waitFor, pollEvery)
	assert.Equal(t, Streaming, c.State())
	require.NoError(t, c.Stop())
}

// gatedSource holds every Read until release is closed and reports on
// entered when the first one starts.
type gatedSource struct {
	fakeSource
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

type gatedStream struct {
	audio.Stream
	src *gatedSource
}

func (g *gatedSource) Open(sampleRate float64, blockSize int) (audio.Stream, error) {
	stream, err := g.fakeSource.Open(sampleRate, blockSize)
	if err != nil {
		return nil, err
	}
	return &gatedStream{Stream: stream, src: g}, nil
}

func (s *gatedStream) Read() (audio.RawBlock, error) {
	s.src.once.Do(func() { close(s.src.entered) })
	<-s.src.release
	return s.Stream.Read()
}

func TestController_StopDiscardsReadInFlight(t *testing.T) {
	src := &gatedSource{
		fakeSource: fakeSource{fill: 12000},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	c, rec := newTestController(t, src, "")

	require.NoError(t, c.Start())
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	require.NotNil(t, s)

	select {
	case <-src.entered:
	case <-time.After(waitFor):
		t.Fatal("read never started")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()

	select {
	case <-s.done:
	case <-time.After(waitFor):
		t.Fatal("session not signalled to stop")
	}
	close(src.release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, Idle, c.State())
	_, ok := c.Latest()
	assert.False(t, ok, "abandoned cycle must not become the latest frame")
	assert.Zero(t, c.Stats().Published)
	assert.Zero(t, c.Stats().Alerts)
	assert.Zero(t, rec.count())
}

func TestController_CloseRacingStart(t *testing.T) {
	for range 200 {
		src := &fakeSource{}
		c, err := NewController(src, Options{Period: testPeriod}, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, c.Start())
		require.NoError(t, c.Stop())

		started := make(chan error, 1)
		go func() { started <- c.Start() }()

		closed := make(chan error, 1)
		go func() { closed <- c.Close() }()

		select {
		case err := <-closed:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("Close hung")
		}
		if err := <-started; err != nil {
			assert.ErrorIs(t, err, ErrClosed)
		}
		assert.Equal(t, Idle, c.State())
		_, _, open, _ := src.counts()
		assert.Equal(t, 0, open)
	}
}

func TestController_Close(t *testing.T) {
	src := &fakeSource{}
	c, err := NewController(src, Options{Period: testPeriod}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Start())
	require.NoError(t, c.Close())
	assert.Equal(t, Idle, c.State())
	assert.ErrorIs(t, c.Start(), ErrClosed)

	_, _, open, _ := src.counts()
	assert.Equal(t, 0, open)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "State(7)", State(7).String())

	text, err := Streaming.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "streaming", string(text))
}
