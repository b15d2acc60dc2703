// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"scope/pkg/bitint"
)

// MalgoSource captures through miniaudio. The device delivers frames in
// callback-sized chunks which are assembled into fixed blocks.
type MalgoSource struct {
	DeviceName        string        // Case-insensitive substring; empty selects the default
	DisconnectTimeout time.Duration // No block within this long means the device is gone
	QueueDepth        int           // Blocks buffered ahead of the reader; 0 sizes for one 100ms cycle
}

// Open initialises a miniaudio context and starts a mono S16 capture device.
func (s MalgoSource) Open(sampleRate float64, blockSize int) (Stream, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init malgo context: %w", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if s.DeviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(ctx)
			return nil, fmt.Errorf("%w: failed to enumerate capture devices: %w", ErrDeviceUnavailable, err)
		}
		found := false
		for _, info := range infos {
			if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(s.DeviceName)) {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			freeContext(ctx)
			return nil, fmt.Errorf("%w: no capture device matching %q", ErrDeviceUnavailable, s.DeviceName)
		}
	}

	depth := s.QueueDepth
	if depth <= 0 {
		depth = bitint.NextPowerOfTwo(int(math.Ceil(sampleRate / 10 / float64(blockSize))))
	}
	timeout := s.DisconnectTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	ms := &malgoStream{
		ctx:       ctx,
		assembler: newBlockAssembler(blockSize, depth),
		timeout:   timeout,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, framecount uint32) {
			if len(input) < 2 {
				return
			}
			samples := unsafe.Slice((*int16)(unsafe.Pointer(&input[0])), int(framecount))
			ms.assembler.Write(samples)
		},
		Stop: ms.assembler.Disconnect,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("%w: failed to init device: %w", ErrDeviceUnavailable, err)
	}
	if device.SampleRate() != uint32(sampleRate) {
		device.Uninit()
		freeContext(ctx)
		return nil, fmt.Errorf("%w: device runs at %d Hz, want %.0f Hz", ErrDeviceUnavailable, device.SampleRate(), sampleRate)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return nil, fmt.Errorf("%w: failed to start device: %w", ErrDeviceUnavailable, err)
	}
	ms.device = device

	return ms, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

type malgoStream struct {
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	assembler *blockAssembler
	timeout   time.Duration
	closeOnce sync.Once
}

func (m *malgoStream) Read() (RawBlock, error) {
	return m.assembler.Next(m.timeout)
}

func (m *malgoStream) Close() error {
	m.closeOnce.Do(func() {
		m.device.Uninit()
		freeContext(m.ctx)
		m.assembler.Disconnect()
	})
	return nil
}

// blockAssembler turns arbitrarily sized callback chunks into whole blocks.
// Write is called from a single producer (the device callback); Next from a
// single consumer.
type blockAssembler struct {
	size     int
	pending  []int16
	ready    chan RawBlock
	overflow atomic.Bool
	gone     chan struct{}
	goneOnce sync.Once
}

func newBlockAssembler(blockSize, depth int) *blockAssembler {
	return &blockAssembler{
		size:    blockSize,
		pending: make([]int16, 0, blockSize),
		ready:   make(chan RawBlock, depth),
		gone:    make(chan struct{}),
	}
}

// Write appends samples, emitting a block each time one fills up. A block
// that finds the queue full is dropped and the overflow flag raised.
func (a *blockAssembler) Write(samples []int16) {
	for len(samples) > 0 {
		n := min(a.size-len(a.pending), len(samples))
		a.pending = append(a.pending, samples[:n]...)
		samples = samples[n:]

		if len(a.pending) < a.size {
			return
		}

		block := make(RawBlock, a.size)
		copy(block, a.pending)
		a.pending = a.pending[:0]

		select {
		case a.ready <- block:
		default:
			a.overflow.Store(true)
		}
	}
}

// Next returns the oldest complete block. A pending overflow is reported
// once and discards everything queued so the following block is fresh.
func (a *blockAssembler) Next(timeout time.Duration) (RawBlock, error) {
	if a.overflow.Swap(false) {
		a.drain()
		return nil, ErrReadOverflow
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case block := <-a.ready:
		return block, nil
	case <-a.gone:
		return nil, fmt.Errorf("%w: capture device stopped", ErrDeviceDisconnected)
	case <-timer.C:
		return nil, fmt.Errorf("%w: no samples for %s", ErrDeviceDisconnected, timeout)
	}
}

// Disconnect wakes any blocked reader with ErrDeviceDisconnected.
func (a *blockAssembler) Disconnect() {
	a.goneOnce.Do(func() { close(a.gone) })
}

func (a *blockAssembler) drain() {
	for {
		select {
		case <-a.ready:
		default:
			return
		}
	}
}
