// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures from a PortAudio input device using a blocking
// stream. PortAudio must be initialised before Open is called.
type PortAudioSource struct {
	DeviceID   int  // -1 selects the system default input
	LowLatency bool // Use the device's low input latency instead of the high one
}

// Open opens a mono 16-bit blocking input stream.
func (s PortAudioSource) Open(sampleRate float64, blockSize int) (Stream, error) {
	device, err := InputDevice(s.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	latency := device.DefaultHighInputLatency
	if s.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	buf := make([]int16, blockSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  latency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: blockSize,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", ErrDeviceUnavailable, device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start %q: %w", ErrDeviceUnavailable, device.Name, err)
	}

	return &paStream{stream: stream, buf: buf}, nil
}

type paStream struct {
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func (p *paStream) Read() (RawBlock, error) {
	if p.closed {
		return nil, fmt.Errorf("%w: stream closed", ErrDeviceDisconnected)
	}
	if err := p.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, ErrReadOverflow
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceDisconnected, err)
	}
	block := make(RawBlock, len(p.buf))
	copy(block, p.buf)
	return block, nil
}

func (p *paStream) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	if stopErr != nil {
		return fmt.Errorf("failed to stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close input stream: %w", closeErr)
	}
	return nil
}
