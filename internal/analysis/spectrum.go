// SPDX-License-Identifier: MIT

// Package analysis turns raw sample blocks into calibrated voltages, extracts
// the dominant frequency and peak amplitude, and decides overvoltage alerts.
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"scope/pkg/bitint"
	"scope/pkg/utils"
)

// SpectralResult is the outcome of analysing one voltage block.
type SpectralResult struct {
	DominantFrequency float64 `json:"dominant_frequency"` // Hz
	PeakAmplitude     float64 `json:"peak_amplitude"`     // mV, max |v| over the block
	Bin               int     `json:"bin"`                // Index of the dominant bin
}

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input     []float64    // Windowed block
	fftOutput []complex128 // N/2+1 coefficients
	magnitude []float64    // |X[k]| for the one-sided axis
	window    []float64    // Window coefficients
	mu        sync.Mutex
}

// SpectralAnalyzer computes the dominant frequency of fixed-size blocks. It
// is safe for concurrent use; calls are serialised on an internal workspace.
type SpectralAnalyzer struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64
	windowType WindowFunc
	workspace  fftWorkspace
}

// NewSpectralAnalyzer creates an analyzer for blocks of size samples at
// sampleRate Hz. size must be a power of 2.
func NewSpectralAnalyzer(size int, sampleRate float64, windowType WindowFunc) (*SpectralAnalyzer, error) {
	if !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	coeffs, err := windowCoefficients(size, windowType)
	if err != nil {
		return nil, err
	}

	return &SpectralAnalyzer{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		windowType: windowType,
		workspace: fftWorkspace{
			input:     make([]float64, size),
			fftOutput: make([]complex128, size/2+1),
			magnitude: make([]float64, size/2),
			window:    coeffs,
		},
	}, nil
}

// Analyze returns the dominant frequency and peak amplitude of block.
//
// The dominant frequency is the centre of the largest-magnitude bin among the
// first size/2 bins (DC included, Nyquist excluded); the earliest bin wins a
// tie. The peak amplitude is taken from the voltages, not the spectrum.
// Blocks shorter than size are zero padded for the FFT, longer ones truncated.
func (a *SpectralAnalyzer) Analyze(block VoltageBlock) SpectralResult {
	peak := PeakAmplitude(block)

	ws := &a.workspace
	ws.mu.Lock()
	defer ws.mu.Unlock()

	n := len(block)
	for i := range a.size {
		if i < n {
			ws.input[i] = block[i] * ws.window[i]
		} else {
			ws.input[i] = 0
		}
	}

	a.fft.Coefficients(ws.fftOutput, ws.input)

	for i := range ws.magnitude {
		ws.magnitude[i] = cmplx.Abs(ws.fftOutput[i])
	}

	bin := utils.FindPeakBin(ws.magnitude, 0, len(ws.magnitude)-1)

	return SpectralResult{
		DominantFrequency: a.FrequencyForBin(bin),
		PeakAmplitude:     peak,
		Bin:               bin,
	}
}

// FrequencyForBin returns the frequency (Hz) of a one-sided bin, or 0 when
// the index is outside [0, size/2).
func (a *SpectralAnalyzer) FrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= a.size/2 {
		return 0
	}
	return float64(bin) * a.sampleRate / float64(a.size)
}

// Resolution is the width of one frequency bin in Hz.
func (a *SpectralAnalyzer) Resolution() float64 {
	return a.sampleRate / float64(a.size)
}

// Size is the FFT length.
func (a *SpectralAnalyzer) Size() int { return a.size }

func (a *SpectralAnalyzer) SampleRate() float64 { return a.sampleRate }

func (a *SpectralAnalyzer) Window() WindowFunc { return a.windowType }

// PeakAmplitude returns max |v| over block, 0 for an empty block.
func PeakAmplitude(block VoltageBlock) float64 {
	var peak float64
	for _, v := range block {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}
