// SPDX-License-Identifier: MIT
/*
Package bitint provides power-of-two helpers used to size FFT inputs and
block queues. All functions are allocation free and constant time.

	depth := bitint.NextPowerOfTwo(5) // 8
	ok := bitint.IsPowerOfTwo(1024)   // true

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two map to themselves: bits.Len(7) is 3 and 1<<3 is 8, whereas
bits.Len(8) would give 16.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size, or 1 for size <= 0.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2. A power of two
// has a single bit set, so clearing its lowest set bit leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
