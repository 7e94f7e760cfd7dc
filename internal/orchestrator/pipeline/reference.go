package pipeline

import (
	"log/slog"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/features"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/fingerprint"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/gmia"
)

// Reference is a freshly trained model and its spectrogram fingerprint.
type Reference struct {
	Model       *gmia.Model
	Fingerprint string
	Vectors     int
}

// Train extracts batch-mode features from a reference recording and fits a
// model. A fingerprint failure is logged and leaves Fingerprint empty.
func Train(machineID string, samples []float32, cfg features.Config) (*Reference, error) {
	ext, err := features.New(cfg)
	if err != nil {
		return nil, err
	}
	vecs, err := ext.ExtractBuffer(samples)
	if err != nil {
		return nil, err
	}
	model, err := gmia.Train(vecs, machineID)
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint.Hash(vecs)
	if err != nil {
		slog.Warn("reference fingerprint failed", "machine", machineID, "error", err)
		fp = ""
	}
	return &Reference{Model: model, Fingerprint: fp, Vectors: len(vecs)}, nil
}

// Collector accumulates chunk samples until a target length is reached.
type Collector struct {
	target int
	buf    []float32
}

// NewCollector collects targetSamples samples.
func NewCollector(targetSamples int) *Collector {
	return &Collector{target: targetSamples, buf: make([]float32, 0, targetSamples)}
}

// Add appends samples, truncating at the target. It reports whether the
// target has been reached.
func (c *Collector) Add(samples []float32) bool {
	room := c.target - len(c.buf)
	if room > 0 {
		c.buf = append(c.buf, samples[:min(room, len(samples))]...)
	}
	return c.Done()
}

// Done reports whether the target has been reached.
func (c *Collector) Done() bool { return len(c.buf) >= c.target }

// Samples returns the collected samples.
func (c *Collector) Samples() []float32 { return c.buf }

// Progress is the collected fraction in [0,1].
func (c *Collector) Progress() float64 {
	if c.target <= 0 {
		return 1
	}
	return float64(len(c.buf)) / float64(c.target)
}
