// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWav encodes samples as a 16-bit PCM file and returns its path.
func writeWav(t *testing.T, sampleRate, channels int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func ramp(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i - n/2
	}
	return out
}

func TestWavSource_ReadsWholeBlocks(t *testing.T) {
	const block = 8
	path := writeWav(t, 44100, 1, ramp(2*block+3))

	stream, err := WavSource{Path: path}.Open(44100, block)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	for i := range 2 {
		got, err := stream.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if len(got) != block {
			t.Fatalf("Read %d returned %d samples, want %d", i, len(got), block)
		}
		if want := int16(i*block - (2*block+3)/2); got[0] != want {
			t.Errorf("Read %d first sample = %d, want %d", i, got[0], want)
		}
	}

	// Three samples remain: never returned as a partial block.
	got, err := stream.Read()
	if !errors.Is(err, ErrDeviceDisconnected) {
		t.Fatalf("Read past end = (%v, %v), want ErrDeviceDisconnected", got, err)
	}
	if got != nil {
		t.Errorf("partial block returned: %v", got)
	}
}

func TestWavSource_Loop(t *testing.T) {
	const block = 8
	samples := ramp(5)
	path := writeWav(t, 44100, 1, samples)

	stream, err := WavSource{Path: path, Loop: true}.Open(44100, block)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	for i := range 3 {
		got, err := stream.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if len(got) != block {
			t.Fatalf("Read %d returned %d samples", i, len(got))
		}
		for j, v := range got {
			pos := (i*block + j) % len(samples)
			if int(v) != samples[pos] {
				t.Fatalf("Read %d sample %d = %d, want %d", i, j, v, samples[pos])
			}
		}
	}
}

func TestWavSource_FirstChannelOnly(t *testing.T) {
	// Interleaved L/R with R a constant marker.
	data := []int{1, 99, 2, 99, 3, 99, 4, 99}
	path := writeWav(t, 44100, 2, data)

	stream, err := WavSource{Path: path}.Open(44100, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	got, err := stream.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := RawBlock{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestWavSource_OpenErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.wav")
	if err := os.WriteFile(garbage, []byte("not a riff file at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"Missing File", filepath.Join(dir, "missing.wav")},
		{"Not WAV", garbage},
		{"Wrong Sample Rate", writeWav(t, 48000, 1, ramp(16))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WavSource{Path: tt.path}.Open(44100, 8)
			if !errors.Is(err, ErrDeviceUnavailable) {
				t.Errorf("Open error = %v, want ErrDeviceUnavailable", err)
			}
		})
	}
}

func TestWavSource_CloseIdempotent(t *testing.T) {
	path := writeWav(t, 44100, 1, ramp(16))
	stream, err := WavSource{Path: path}.Open(44100, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := stream.Read(); !errors.Is(err, ErrDeviceDisconnected) {
		t.Errorf("Read after Close = %v, want ErrDeviceDisconnected", err)
	}
}
