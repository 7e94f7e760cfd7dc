// Package dsp holds the numeric kernels shared by feature extraction and
// capture: a radix-2 FFT, window functions and simple signal statistics.
package dsp

import (
	"fmt"
	"math"
	"math/bits"
)

// Plan is a reusable radix-2 FFT of a fixed power-of-two length. The twiddle
// table is computed once so repeated transforms allocate nothing.
type Plan struct {
	n   int
	cos []float64
	sin []float64
}

// NewPlan prepares an FFT of length n. n must be a power of two.
func NewPlan(n int) (*Plan, error) {
	if n < 1 || !IsPow2(n) {
		return nil, fmt.Errorf("dsp: fft length %d is not a power of two", n)
	}
	half := n / 2
	p := &Plan{n: n, cos: make([]float64, half), sin: make([]float64, half)}
	for k := 0; k < half; k++ {
		p.sin[k], p.cos[k] = math.Sincos(-2 * math.Pi * float64(k) / float64(n))
	}
	return p, nil
}

// Len returns the transform length.
func (p *Plan) Len() int { return p.n }

// Transform performs an in-place iterative Cooley-Tukey FFT on (re, im).
// Both slices must have length Len().
func (p *Plan) Transform(re, im []float64) {
	n := p.n
	if len(re) != n || len(im) != n {
		panic(fmt.Sprintf("dsp: fft input length %d/%d, plan length %d", len(re), len(im), n))
	}
	if n <= 1 {
		return
	}

	// Bit-reversal permutation
	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	// Butterflies; stage twiddle e^{-2πik/size} is table entry k*(n/size).
	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		stride := n / size
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				wR, wI := p.cos[k*stride], p.sin[k*stride]
				u := start + k
				v := u + half

				tR := wR*re[v] - wI*im[v]
				tI := wR*im[v] + wI*re[v]

				re[v] = re[u] - tR
				im[v] = im[u] - tI
				re[u] += tR
				im[u] += tI
			}
		}
	}
}

// FFT transforms (re, im) in place. It builds a throwaway plan; hot paths
// should hold a Plan instead.
func FFT(re, im []float64) error {
	p, err := NewPlan(len(re))
	if err != nil {
		return err
	}
	if len(im) != len(re) {
		return fmt.Errorf("dsp: fft real/imag length mismatch %d != %d", len(re), len(im))
	}
	p.Transform(re, im)
	return nil
}

// Magnitudes writes |re[k] + i·im[k]| for k < len(dst).
func Magnitudes(dst, re, im []float64) {
	for k := range dst {
		dst[k] = math.Hypot(re[k], im[k])
	}
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// NextPow2 returns the smallest power of two >= n (1 for n <= 1).
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
