// Package gmia trains a single reference weight vector that is maximally
// cosine-aligned with a set of feature vectors, and scores new vectors
// against it.
package gmia

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Fixed model constants. Models record the values they were trained with.
const (
	Lambda            = 1e9
	TargetScore       = 0.9
	MinMeanSimilarity = 1e-9
)

var (
	ErrEmptyDataset              = errors.New("gmia: empty training set")
	ErrMalformedFeatures         = errors.New("gmia: malformed feature vectors")
	ErrSingularMatrix            = errors.New("gmia: regularized gram matrix is singular")
	ErrInsufficientSignalQuality = errors.New("gmia: insufficient signal quality")
	ErrSampleRateMismatch        = errors.New("gmia: sample rate mismatch")
	ErrInvalidSampleRate         = errors.New("gmia: invalid sample rate")
)

// Metadata describes the training run.
type Metadata struct {
	MeanSimilarity  float64 `json:"mean_similarity" msgpack:"mean_similarity"`
	TargetScore     float64 `json:"target_score" msgpack:"target_score"`
	TrainingVectors int     `json:"training_vectors" msgpack:"training_vectors"`
}

// Model is a trained reference. It is never mutated after Train returns.
type Model struct {
	MachineID  string    `json:"machine_id" msgpack:"machine_id"`
	Weights    []float64 `json:"weights" msgpack:"weights"`
	Lambda     float64   `json:"lambda" msgpack:"lambda"`
	Scaling    float64   `json:"scaling" msgpack:"scaling"`
	Dimension  int       `json:"dimension" msgpack:"dimension"`
	SampleRate int       `json:"sample_rate" msgpack:"sample_rate"`
	CreatedAt  time.Time `json:"created_at" msgpack:"created_at"`
	Metadata   Metadata  `json:"metadata" msgpack:"metadata"`
}

// Score maps a cosine similarity to a 0-100 health score,
// 100·tanh(C·sim)². Negative similarities score 0.
func (m *Model) Score(similarity float64) float64 {
	if !(similarity > 0) {
		return 0
	}
	t := math.Tanh(m.Scaling * similarity)
	return 100 * t * t
}

// Scores maps each similarity through Score.
func (m *Model) Scores(similarities []float64) []float64 {
	out := make([]float64, len(similarities))
	for i, s := range similarities {
		out[i] = m.Score(s)
	}
	return out
}

// Validate checks a model loaded from outside the process.
func (m *Model) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: nil model", ErrMalformedFeatures)
	case m.Dimension <= 0 || len(m.Weights) != m.Dimension:
		return fmt.Errorf("%w: %d weights for dimension %d", ErrMalformedFeatures, len(m.Weights), m.Dimension)
	case m.SampleRate <= 0:
		return fmt.Errorf("%w: model sample rate %d", ErrInvalidSampleRate, m.SampleRate)
	case !finite(m.Scaling) || m.Scaling == 0:
		return fmt.Errorf("%w: scaling %v", ErrInsufficientSignalQuality, m.Scaling)
	case !(m.Lambda > 0):
		return fmt.Errorf("%w: lambda %v", ErrMalformedFeatures, m.Lambda)
	}
	for i, w := range m.Weights {
		if !finite(w) {
			return fmt.Errorf("%w: weight %d is %v", ErrMalformedFeatures, i, w)
		}
	}
	return nil
}

// CosineSimilarity returns a·b / (|a||b|), or 0 when either norm is 0.
func CosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
