// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavSource replays a 16-bit PCM WAV file as if it were a capture device.
// Only the first channel of multi-channel files is used.
type WavSource struct {
	Path string
	Loop bool // Rewind at end of file instead of reporting a disconnect
}

// Open validates the file format against the requested stream format.
func (s WavSource) Open(sampleRate float64, blockSize int) (Stream, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrDeviceUnavailable, s.Path)
	}
	if dec.BitDepth != 16 {
		f.Close()
		return nil, fmt.Errorf("%w: %s has %d-bit samples, want 16", ErrDeviceUnavailable, s.Path, dec.BitDepth)
	}
	if float64(dec.SampleRate) != sampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d Hz, want %.0f Hz", ErrDeviceUnavailable, s.Path, dec.SampleRate, sampleRate)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, s.Path, err)
	}

	channels := max(int(dec.NumChans), 1)
	return &wavStream{
		file:      f,
		dec:       dec,
		loop:      s.Loop,
		channels:  channels,
		blockSize: blockSize,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, blockSize*channels),
		},
	}, nil
}

type wavStream struct {
	file      *os.File
	dec       *wav.Decoder
	loop      bool
	channels  int
	blockSize int
	buf       *goaudio.IntBuffer
	closed    bool
}

func (w *wavStream) Read() (RawBlock, error) {
	if w.closed {
		return nil, fmt.Errorf("%w: stream closed", ErrDeviceDisconnected)
	}

	block := make(RawBlock, 0, w.blockSize)
	rewound := false
	for len(block) < w.blockSize {
		want := (w.blockSize - len(block)) * w.channels
		w.buf.Data = w.buf.Data[:want]

		n, err := w.dec.PCMBuffer(w.buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceDisconnected, err)
		}

		for i := 0; i+w.channels <= n; i += w.channels {
			block = append(block, int16(w.buf.Data[i]))
		}

		if n < want {
			// End of data. A partial block is never returned.
			if !w.loop || (rewound && n == 0) {
				return nil, fmt.Errorf("%w: end of file", ErrDeviceDisconnected)
			}
			if err := w.dec.Rewind(); err != nil {
				return nil, fmt.Errorf("%w: rewind: %w", ErrDeviceDisconnected, err)
			}
			rewound = true
		}
	}
	return block, nil
}

func (w *wavStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
