package gmia

import (
	"fmt"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/features"
)

// Infer returns the cosine similarity of each vector to the model weights.
// The sample rate check runs before anything else: band-to-frequency
// mapping depends on it.
func Infer(m *Model, vectors []features.Vector, testSampleRate int) ([]float64, error) {
	if err := CheckRate(m, testSampleRate); err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if v.SampleRate != 0 && v.SampleRate != testSampleRate {
			return nil, fmt.Errorf("%w: vector %d extracted at %d Hz, declared %d Hz", ErrSampleRateMismatch, i, v.SampleRate, testSampleRate)
		}
	}
	return InferMatrix(m, features.Relatives(vectors), testSampleRate)
}

// InferMatrix is Infer over raw rows.
func InferMatrix(m *Model, rows [][]float64, testSampleRate int) ([]float64, error) {
	if err := CheckRate(m, testSampleRate); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("%w: vector %d has %d values, model dimension %d", ErrMalformedFeatures, i, len(row), len(m.Weights))
		}
		out[i] = CosineSimilarity(m.Weights, row)
	}
	return out, nil
}

// CheckRate validates a test sample rate against m: non-positive rates are
// invalid, any other difference is a mismatch.
func CheckRate(m *Model, rate int) error {
	if m == nil {
		return fmt.Errorf("%w: nil model", ErrMalformedFeatures)
	}
	if rate <= 0 || m.SampleRate <= 0 {
		return fmt.Errorf("%w: model %d Hz, test %d Hz", ErrInvalidSampleRate, m.SampleRate, rate)
	}
	if rate != m.SampleRate {
		return fmt.Errorf("%w: model %s trained at %d Hz, test audio at %d Hz", ErrSampleRateMismatch, m.MachineID, m.SampleRate, rate)
	}
	return nil
}
