package dsp

import "math"

// HannWindow returns the symmetric Hann window of length n.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// Mean returns the arithmetic mean of x, or 0 for an empty slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

// StdDev returns the population standard deviation of x around mean.
func StdDev(x []float64, mean float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		d := v - mean
		s += d * d
	}
	return math.Sqrt(s / float64(len(x)))
}

// RMS returns the root mean square of x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v * v
	}
	return math.Sqrt(s / float64(len(x)))
}

// RMS32 is RMS over float32 samples, accumulated in float64.
func RMS32(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		f := float64(v)
		s += f * f
	}
	return math.Sqrt(s / float64(len(x)))
}

// CountAbove returns how many samples have magnitude strictly above floor.
func CountAbove(x []float32, floor float32) int {
	n := 0
	for _, v := range x {
		if v > floor || v < -floor {
			n++
		}
	}
	return n
}
