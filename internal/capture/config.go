package capture

import (
	"fmt"
	"math"
)

// Session defaults.
const (
	DefaultWarmupMs           = 5000
	DefaultSignalThresholdRMS = 0.002
	DefaultMaxWaitSeconds     = 30
	DefaultWindowSeconds      = 0.33

	MinBufferCapacity = 32768

	// hardware-blocked scan over the first seconds of warmup
	BlockedScanSeconds = 2
	BlockedNoiseFloor  = 1e-4
	BlockedMinActive   = 0.10
)

// Config holds the session parameters. All durations are converted to
// sample counts using SampleRate.
type Config struct {
	SampleRate         int
	WarmupMs           int
	SignalThresholdRMS float64
	MaxWaitSeconds     float64
	WindowSeconds      float64
}

// DefaultConfig returns the standard session parameters for sampleRate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:         sampleRate,
		WarmupMs:           DefaultWarmupMs,
		SignalThresholdRMS: DefaultSignalThresholdRMS,
		MaxWaitSeconds:     DefaultMaxWaitSeconds,
		WindowSeconds:      DefaultWindowSeconds,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("capture: invalid sample rate %d", c.SampleRate)
	case c.WarmupMs < 0:
		return fmt.Errorf("capture: negative warmup %dms", c.WarmupMs)
	case c.SignalThresholdRMS < 0:
		return fmt.Errorf("capture: negative signal threshold %g", c.SignalThresholdRMS)
	case c.MaxWaitSeconds <= 0:
		return fmt.Errorf("capture: invalid max wait %gs", c.MaxWaitSeconds)
	case c.WindowSeconds <= 0:
		return fmt.Errorf("capture: invalid window %gs", c.WindowSeconds)
	case c.ChunkSize() < 1:
		return fmt.Errorf("capture: window %gs at %d Hz yields an empty chunk", c.WindowSeconds, c.SampleRate)
	}
	return nil
}

// ChunkSize is floor(window × sample rate).
func (c Config) ChunkSize() int {
	return int(math.Floor(c.WindowSeconds * float64(c.SampleRate)))
}

// BufferCapacity is max(32768, 2 × chunk size).
func (c Config) BufferCapacity() int {
	return max(MinBufferCapacity, 2*c.ChunkSize())
}

// WarmupSamples converts the warmup duration to samples.
func (c Config) WarmupSamples() int64 {
	return int64(c.WarmupMs) * int64(c.SampleRate) / 1000
}

// MaxWaitSamples converts the waiting timeout to samples.
func (c Config) MaxWaitSamples() int64 {
	return int64(math.Ceil(c.MaxWaitSeconds * float64(c.SampleRate)))
}

func (c Config) blockedScanSamples() int64 {
	return int64(BlockedScanSeconds * c.SampleRate)
}
