// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"
)

func TestScale(t *testing.T) {
	tests := []struct {
		name        string
		sample      int16
		voltsPerDiv float64
		want        float64
	}{
		{"Positive Full Scale", 32767, 200, 199.993896484375},
		{"Negative Full Scale", -32768, 200, -200},
		{"Zero", 0, 1000, 0},
		{"Half Scale 10mV", 16384, 10, 5},
		{"Smallest Step 1V", 1, 1000, 1000.0 / 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scale([]int16{tt.sample}, tt.voltsPerDiv)
			if len(got) != 1 {
				t.Fatalf("Scale() length = %d, want 1", len(got))
			}
			if math.Abs(got[0]-tt.want) > 1e-12 {
				t.Errorf("Scale(%d, %.0f) = %.12f, want %.12f", tt.sample, tt.voltsPerDiv, got[0], tt.want)
			}
		})
	}
}

func TestScale_LinearAndOrdered(t *testing.T) {
	raw := []int16{-32768, -1000, -1, 0, 1, 1000, 32767}

	base := Scale(raw, 100)
	double := Scale(raw, 200)

	for i := range raw {
		if math.Abs(double[i]-2*base[i]) > 1e-12 {
			t.Errorf("sample %d: Scale(200) = %f, want 2 * %f", i, double[i], base[i])
		}
		if i > 0 && !(base[i] > base[i-1]) {
			t.Errorf("order not preserved at %d: %f <= %f", i, base[i], base[i-1])
		}
	}
}

func TestScale_Empty(t *testing.T) {
	if got := Scale(nil, 200); len(got) != 0 {
		t.Errorf("Scale(nil) = %v, want empty", got)
	}
}

func TestScaleIntoZeroAllocs(t *testing.T) {
	raw := make([]int16, 1024)
	for i := range raw {
		raw[i] = int16(i * 31)
	}
	dst := make(VoltageBlock, len(raw))

	allocs := testing.AllocsPerRun(100, func() {
		ScaleInto(dst, raw, 200)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in ScaleInto, got %.1f", allocs)
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		amplitude float64
		ceiling   float64
		alert     bool
	}{
		{"Above Ceiling", 305, 300, true},
		{"At Ceiling", 300, 300, false},
		{"Just Below", 299.999, 300, false},
		{"Just Above", 300.0001, 300, true},
		{"Full Scale 200mV", 199.993896484375, 300, false},
		{"Zero", 0, 300, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Evaluate(tt.amplitude, tt.ceiling)
			if ok != tt.alert {
				t.Fatalf("Evaluate(%f, %f) alert = %v, want %v", tt.amplitude, tt.ceiling, ok, tt.alert)
			}
			if ok && (ev.Amplitude != tt.amplitude || ev.Ceiling != tt.ceiling) {
				t.Errorf("Evaluate() event = %+v", ev)
			}
			if !ok && ev != (AlertEvent{}) {
				t.Errorf("Evaluate() returned non-zero event without alert: %+v", ev)
			}
		})
	}
}
