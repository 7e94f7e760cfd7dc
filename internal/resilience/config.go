package resilience

import "time"

// Breaker defaults, tuned for audio input devices: they either come back
// within seconds (a USB replug) or need a person, so trip early and probe
// again soon.
const (
	DeviceThreshold         = 3
	DeviceResetTimeout      = 10 * time.Second
	DeviceHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings. Zero fields take the device
// defaults.
type Config struct {
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // time open before a probe is allowed
	HalfOpenSuccesses int           // probe successes needed to close
}

// DeviceConfig returns settings for guarding audio device opens.
func DeviceConfig() Config {
	return Config{
		Threshold:         DeviceThreshold,
		ResetTimeout:      DeviceResetTimeout,
		HalfOpenSuccesses: DeviceHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	d := DeviceConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = d.HalfOpenSuccesses
	}
	return c
}
