// SPDX-License-Identifier: MIT
package analysis

import "scope/internal/config"

// VoltageBlock is a block of calibrated voltages in mV.
type VoltageBlock []float64

// Scale converts signed 16-bit samples to voltages: v = voltsPerDiv * s / 32768.
func Scale(raw []int16, voltsPerDiv float64) VoltageBlock {
	out := make(VoltageBlock, len(raw))
	ScaleInto(out, raw, voltsPerDiv)
	return out
}

// ScaleInto is Scale writing into dst, which must be at least len(raw) long.
func ScaleInto(dst VoltageBlock, raw []int16, voltsPerDiv float64) {
	k := voltsPerDiv / config.FullScale
	for i, s := range raw {
		dst[i] = float64(s) * k
	}
}
