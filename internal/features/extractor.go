// Package features turns audio windows into normalized frequency-band
// energy profiles.
package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/dsp"
)

var (
	// ErrBufferTooShort is returned when the input holds less than one window.
	ErrBufferTooShort = errors.New("features: buffer shorter than one analysis window")
	// ErrDegenerateSignal is returned when the binned spectrum carries no energy.
	ErrDegenerateSignal = errors.New("features: signal too silent or constant")
)

// Config controls window geometry and binning.
type Config struct {
	SampleRate    int
	Bins          int
	WindowSeconds float64
	HopSeconds    float64
}

// DefaultConfig returns the 512-bin, 0.33 s window, 0.066 s hop layout.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:    sampleRate,
		Bins:          DefaultBins,
		WindowSeconds: DefaultWindowSeconds,
		HopSeconds:    DefaultHopSeconds,
	}
}

// Extractor computes feature vectors. It keeps scratch buffers and is not
// safe for concurrent use; give each worker its own.
type Extractor struct {
	cfg    Config
	window int
	hop    int

	// scratch sized for the batch window; streaming windows of other
	// lengths get their own plan
	plan *dsp.Plan
	hann []float64
	re   []float64
	im   []float64
	mag  []float64
	buf  []float64
}

// New validates cfg and builds an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("features: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Bins <= 0 {
		cfg.Bins = DefaultBins
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.HopSeconds <= 0 {
		cfg.HopSeconds = DefaultHopSeconds
	}
	e := &Extractor{
		cfg:    cfg,
		window: int(math.Floor(cfg.WindowSeconds * float64(cfg.SampleRate))),
		hop:    int(math.Floor(cfg.HopSeconds * float64(cfg.SampleRate))),
	}
	if e.window < 2 {
		return nil, fmt.Errorf("features: window of %d samples at %d Hz is too short", e.window, cfg.SampleRate)
	}
	if e.hop < 1 {
		e.hop = 1
	}
	if err := e.prepare(e.window); err != nil {
		return nil, err
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// WindowSize is the batch window length in samples.
func (e *Extractor) WindowSize() int { return e.window }

// HopSize is the batch hop length in samples.
func (e *Extractor) HopSize() int { return e.hop }

func (e *Extractor) prepare(n int) error {
	if len(e.hann) == n {
		return nil
	}
	size := dsp.NextPow2(n)
	if size/2 < e.cfg.Bins {
		return fmt.Errorf("%w: %d spectrum points for %d bins", ErrBufferTooShort, size/2, e.cfg.Bins)
	}
	if e.plan == nil || e.plan.Len() != size {
		p, err := dsp.NewPlan(size)
		if err != nil {
			return err
		}
		e.plan = p
		e.re = make([]float64, size)
		e.im = make([]float64, size)
		e.mag = make([]float64, size/2)
	}
	e.hann = dsp.HannWindow(n)
	e.buf = make([]float64, n)
	return nil
}

// ExtractWindow computes one vector from a single window of samples.
func (e *Extractor) ExtractWindow(samples []float32) (Vector, error) {
	return e.extract(samples, false)
}

// ExtractChunk computes one vector from a capture chunk. Chunks flagged as
// already standardized skip the standardization step.
func (e *Extractor) ExtractChunk(c capture.Chunk) (Vector, error) {
	if c.SampleRate != 0 && c.SampleRate != e.cfg.SampleRate {
		return Vector{}, fmt.Errorf("features: chunk sample rate %d, extractor configured for %d", c.SampleRate, e.cfg.SampleRate)
	}
	return e.extract(c.Samples, c.Standardized)
}

// ExtractBuffer splits samples into overlapping windows and extracts one
// vector per window.
func (e *Extractor) ExtractBuffer(samples []float32) ([]Vector, error) {
	if len(samples) < e.window {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrBufferTooShort, len(samples), e.window)
	}
	count := (len(samples)-e.window)/e.hop + 1
	out := make([]Vector, 0, count)
	for i := 0; i < count; i++ {
		start := i * e.hop
		v, err := e.extract(samples[start:start+e.window], false)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Extractor) extract(samples []float32, preStandardized bool) (Vector, error) {
	if len(samples) < 2 {
		return Vector{}, fmt.Errorf("%w: have %d samples", ErrBufferTooShort, len(samples))
	}
	if err := e.prepare(len(samples)); err != nil {
		return Vector{}, err
	}

	x := e.buf
	for i, s := range samples {
		x[i] = float64(s)
	}
	rms := dsp.RMS(x)

	cond := PreStandardized
	if !preStandardized {
		cond = standardize(x)
		if cond != Standardized {
			slog.Debug("feature standardization fallback", "mode", cond, "rms", rms, "samples", len(x))
		}
	}

	for i := range e.re {
		if i < len(x) {
			e.re[i] = x[i] * e.hann[i]
		} else {
			e.re[i] = 0
		}
		e.im[i] = 0
	}
	e.plan.Transform(e.re, e.im)
	dsp.Magnitudes(e.mag, e.re, e.im)

	abs := binSpectrum(e.mag, e.cfg.Bins)
	var total float64
	for _, v := range abs {
		total += v
	}
	if !(total > MinTotalEnergy) {
		return Vector{}, fmt.Errorf("%w: total band energy %g", ErrDegenerateSignal, total)
	}
	rel := make([]float64, len(abs))
	for i, v := range abs {
		rel[i] = v / total
	}

	return Vector{
		Relative:     rel,
		Absolute:     abs,
		Bins:         e.cfg.Bins,
		MinFrequency: 0,
		MaxFrequency: float64(e.cfg.SampleRate) / 2,
		SampleRate:   e.cfg.SampleRate,
		RMS:          rms,
		Conditioning: cond,
	}, nil
}

// standardize rescales x in place to zero mean and unit variance, falling
// back to mean removal or to the raw samples for near-constant input.
func standardize(x []float64) Conditioning {
	mean := dsp.Mean(x)
	std := dsp.StdDev(x, mean)
	if std < MinStdDev {
		var c float64
		for _, v := range x {
			d := v - mean
			c += d * d
		}
		if math.Sqrt(c/float64(len(x))) < MinStandardizedRMS {
			return RawFallback
		}
		for i := range x {
			x[i] -= mean
		}
		return CenteredOnly
	}
	var c float64
	for _, v := range x {
		d := (v - mean) / std
		c += d * d
	}
	if math.Sqrt(c/float64(len(x))) < MinStandardizedRMS {
		return RawFallback
	}
	for i := range x {
		x[i] = (x[i] - mean) / std
	}
	return Standardized
}

// binSpectrum folds mag into n equal-width bands of sqrt(mean(mag²)); the
// last band takes the remainder.
func binSpectrum(mag []float64, n int) []float64 {
	out := make([]float64, n)
	width := len(mag) / n
	for b := 0; b < n; b++ {
		lo := b * width
		hi := lo + width
		if b == n-1 {
			hi = len(mag)
		}
		var s float64
		for _, m := range mag[lo:hi] {
			s += m * m
		}
		out[b] = math.Sqrt(s / float64(hi-lo))
	}
	return out
}
