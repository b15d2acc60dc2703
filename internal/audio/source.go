// SPDX-License-Identifier: MIT
/*
Package audio provides block-oriented capture of a mono signed 16-bit signal.

A Source opens a Stream at a fixed sample rate and block size. Stream.Read
blocks until exactly one full block has been captured and never returns a
partial block. Backends:
  - PortAudioSource: blocking PortAudio input stream
  - MalgoSource: miniaudio callback capture assembled into blocks
  - WavSource: replay of a 16-bit PCM WAV file
  - ToneSource: synthetic sine wave
*/
package audio

import "errors"

var (
	// ErrDeviceUnavailable is returned by Open when the device cannot be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrReadOverflow reports that the device buffer overran before the block
	// was read. The stream stays usable; closing and re-opening resynchronises.
	ErrReadOverflow = errors.New("audio input overflowed")

	// ErrDeviceDisconnected reports that the stream can produce no more blocks.
	ErrDeviceDisconnected = errors.New("audio device disconnected")
)

// RawBlock is one block of signed 16-bit samples.
type RawBlock []int16

// Source opens capture streams.
type Source interface {
	Open(sampleRate float64, blockSize int) (Stream, error)
}

// Stream is an open capture handle. Read and Close must not be called
// concurrently with each other.
type Stream interface {
	// Read blocks until blockSize samples have been captured and returns them
	// in a newly allocated block.
	Read() (RawBlock, error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(sampleRate float64, blockSize int) (Stream, error)

func (f SourceFunc) Open(sampleRate float64, blockSize int) (Stream, error) {
	return f(sampleRate, blockSize)
}
