package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// Retry settings. Health probes cross the network; storage retries only
// ride out transaction conflicts, which clear within milliseconds.
const (
	ProbeMaxRetries = 3
	ProbeBaseDelay  = 250 * time.Millisecond
	ProbeMaxDelay   = 2 * time.Second

	StoreMaxRetries = 5
	StoreBaseDelay  = 10 * time.Millisecond
	StoreMaxDelay   = 500 * time.Millisecond

	DefaultJitterFactor = 0.2
	maxBackoffShift     = 6
)

// RetryConfig holds retry settings. Zero fields take the probe defaults.
type RetryConfig struct {
	Op           string // names the operation in logs
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// ProbeRetryConfig returns settings for gRPC health checks.
func ProbeRetryConfig() RetryConfig {
	return RetryConfig{
		Op:           "health_check",
		MaxRetries:   ProbeMaxRetries,
		BaseDelay:    ProbeBaseDelay,
		MaxDelay:     ProbeMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsTransient,
	}
}

// StoreRetryConfig returns settings for storage writes. isRetryable
// classifies engine-specific conflicts.
func StoreRetryConfig(isRetryable func(error) bool) RetryConfig {
	return RetryConfig{
		Op:           "store_write",
		MaxRetries:   StoreMaxRetries,
		BaseDelay:    StoreBaseDelay,
		MaxDelay:     StoreMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  isRetryable,
	}
}

// IsTransient reports whether err is worth retrying. Cancellation never is;
// gRPC errors are classified by code; anything else is retried.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	}
	return false
}

// Retry calls fn until it succeeds, returns a permanent error, or
// MaxRetries retries are spent, and returns fn's last error.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil || attempt >= cfg.MaxRetries || !cfg.IsRetryable(err) {
			return err
		}

		delay := backoffDelay(cfg, attempt)
		trace.Logger(ctx).Debug("retrying", "op", cfg.Op, "attempt", attempt+1, "of", cfg.MaxRetries, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay doubles BaseDelay per attempt up to MaxDelay, then applies
// symmetric jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := min(cfg.BaseDelay<<min(attempt, maxBackoffShift), cfg.MaxDelay)
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return delay + time.Duration(jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := ProbeRetryConfig()
	if c.Op == "" {
		c.Op = "call"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = d.JitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsTransient
	}
	return c
}
