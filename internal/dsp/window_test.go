package dsp

import (
	"math"
	"testing"
)

func TestHannWindow(t *testing.T) {
	w := HannWindow(9)
	if w[0] != 0 || math.Abs(w[8]) > 1e-12 {
		t.Errorf("endpoints = %v, %v, want 0", w[0], w[8])
	}
	if math.Abs(w[4]-1) > 1e-15 {
		t.Errorf("center = %v, want 1", w[4])
	}
	for i := 0; i < 4; i++ {
		if math.Abs(w[i]-w[8-i]) > 1e-12 {
			t.Errorf("window not symmetric at %d", i)
		}
	}
	if got := HannWindow(1); got[0] != 1 {
		t.Errorf("HannWindow(1) = %v, want [1]", got)
	}
}

func TestStats(t *testing.T) {
	x := []float64{1, -1, 1, -1}
	if m := Mean(x); m != 0 {
		t.Errorf("Mean = %v", m)
	}
	if s := StdDev(x, 0); s != 1 {
		t.Errorf("StdDev = %v", s)
	}
	if r := RMS(x); r != 1 {
		t.Errorf("RMS = %v", r)
	}
	if r := RMS32([]float32{3, 4, 3, 4}); math.Abs(r-math.Sqrt(12.5)) > 1e-12 {
		t.Errorf("RMS32 = %v", r)
	}
	if Mean(nil) != 0 || RMS(nil) != 0 || RMS32(nil) != 0 {
		t.Error("empty input should yield 0")
	}
}

func TestCountAbove(t *testing.T) {
	x := []float32{0, 1e-5, -2e-4, 3e-4, 1e-4}
	if got := CountAbove(x, 1e-4); got != 2 {
		t.Errorf("CountAbove = %d, want 2", got)
	}
}
