// SPDX-License-Identifier: MIT

// Package utils holds signal generators and helpers shared by the capture
// backends and by tests.
package utils

import "math"

// GenerateSineWave returns size signed 16-bit samples of a sine at frequency
// Hz. amplitude is a fraction of full scale in [0, 1]; offset is the index of
// the first sample so consecutive calls continue the same waveform.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64, offset int) []int16 {
	buffer := make([]int16, size)
	FillSineWave(buffer, sampleRate, frequency, amplitude, offset)
	return buffer
}

// FillSineWave is GenerateSineWave writing into an existing buffer.
func FillSineWave(buffer []int16, sampleRate, frequency, amplitude float64, offset int) {
	for i := range buffer {
		t := float64(offset+i) / sampleRate
		buffer[i] = quantize(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
}

// GenerateComplexWave returns a 440Hz fundamental with its 2nd and 3rd
// harmonics at 90% of full scale.
func GenerateComplexWave(size int, sampleRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = quantize(signal * 0.9)
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
// The earliest index wins ties. Out of range bounds are clamped.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	if startBin > endBin {
		return endBin
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

// quantize maps [-1, 1] onto the int16 range, clipping outside it.
func quantize(v float64) int16 {
	s := math.Round(v * math.MaxInt16)
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	}
	return int16(s)
}
