// Package pipeline turns captured audio into similarity scores against a
// trained reference model.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/features"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/gmia"
)

// Result is one scored analysis window.
type Result struct {
	Offset       int64         `json:"offset"`
	StartTime    time.Duration `json:"start_time"`
	Similarity   float64       `json:"similarity"`
	Score        float64       `json:"score"`
	RMS          float64       `json:"rms"`
	Conditioning string        `json:"conditioning"`
	Degraded     bool          `json:"degraded,omitempty"`
}

// Processor scores chunks against one model. It owns an extractor and is
// not safe for concurrent use.
type Processor struct {
	model *gmia.Model
	ext   *features.Extractor
}

// NewProcessor builds a processor for model. cfg must describe the same
// sample rate and band count the model was trained with.
func NewProcessor(model *gmia.Model, cfg features.Config) (*Processor, error) {
	if err := gmia.CheckRate(model, cfg.SampleRate); err != nil {
		return nil, err
	}
	if cfg.Bins != model.Dimension {
		return nil, fmt.Errorf("%w: extractor has %d bands, model dimension %d", gmia.ErrMalformedFeatures, cfg.Bins, model.Dimension)
	}
	ext, err := features.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Processor{model: model, ext: ext}, nil
}

// Model returns the reference model.
func (p *Processor) Model() *gmia.Model { return p.model }

// Chunk scores one capture chunk.
func (p *Processor) Chunk(c capture.Chunk) (Result, error) {
	if err := gmia.CheckRate(p.model, c.SampleRate); err != nil {
		return Result{}, err
	}
	v, err := p.ext.ExtractChunk(c)
	if err != nil {
		return Result{}, err
	}
	sims, err := gmia.Infer(p.model, []features.Vector{v}, c.SampleRate)
	if err != nil {
		return Result{}, err
	}
	return p.result(v, sims[0], c.Offset, c.StartTime), nil
}

// Samples scores a whole recording window by window (0.33 s windows,
// 0.066 s hop). The sample rate is checked before any extraction.
func (p *Processor) Samples(samples []float32, sampleRate int) ([]Result, error) {
	if err := gmia.CheckRate(p.model, sampleRate); err != nil {
		return nil, err
	}
	vecs, err := p.ext.ExtractBuffer(samples)
	if err != nil {
		return nil, err
	}
	sims, err := gmia.Infer(p.model, vecs, sampleRate)
	if err != nil {
		return nil, err
	}
	hop := int64(p.ext.HopSize())
	out := make([]Result, len(vecs))
	for i, v := range vecs {
		off := int64(i) * hop
		out[i] = p.result(v, sims[i], off, capture.SampleDuration(off, sampleRate))
	}
	return out, nil
}

func (p *Processor) result(v features.Vector, sim float64, offset int64, start time.Duration) Result {
	if v.Conditioning.Degraded() {
		slog.Debug("scored degraded window", "machine", p.model.MachineID, "offset", offset, "conditioning", v.Conditioning)
	}
	return Result{
		Offset:       offset,
		StartTime:    start,
		Similarity:   sim,
		Score:        p.model.Score(sim),
		RMS:          v.RMS,
		Conditioning: v.Conditioning.String(),
		Degraded:     v.Conditioning.Degraded(),
	}
}

// Summarize returns the mean and minimum score of results.
func Summarize(results []Result) (mean, lowest float64) {
	if len(results) == 0 {
		return 0, 0
	}
	lowest = results[0].Score
	for _, r := range results {
		mean += r.Score
		lowest = min(lowest, r.Score)
	}
	return mean / float64(len(results)), lowest
}
