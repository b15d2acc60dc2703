// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"sync/atomic"

	"scope/pkg/utils"
)

// ToneSource produces a continuous sine wave with no device attached.
type ToneSource struct {
	Frequency float64 // Hz
	Amplitude float64 // Fraction of full scale, 1.0 peaks at 32767
}

func (s ToneSource) Open(sampleRate float64, blockSize int) (Stream, error) {
	if s.Frequency < 0 || s.Frequency > sampleRate/2 {
		return nil, fmt.Errorf("%w: tone frequency %.1f Hz outside 0..%.0f Hz", ErrDeviceUnavailable, s.Frequency, sampleRate/2)
	}
	return &toneStream{src: s, sampleRate: sampleRate, blockSize: blockSize}, nil
}

type toneStream struct {
	src        ToneSource
	sampleRate float64
	blockSize  int
	position   int
	closed     atomic.Bool
}

func (t *toneStream) Read() (RawBlock, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("%w: stream closed", ErrDeviceDisconnected)
	}
	block := utils.GenerateSineWave(t.blockSize, t.sampleRate, t.src.Frequency, t.src.Amplitude, t.position)
	t.position += t.blockSize
	return block, nil
}

func (t *toneStream) Close() error {
	t.closed.Store(true)
	return nil
}
