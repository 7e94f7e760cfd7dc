package gmia

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/features"
)

// Train fits a model to feature vectors extracted at a single sample rate.
func Train(vectors []features.Vector, machineID string) (*Model, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyDataset
	}
	rate := vectors[0].SampleRate
	for i, v := range vectors {
		if v.SampleRate != rate {
			return nil, fmt.Errorf("%w: vector %d at %d Hz, vector 0 at %d Hz", ErrMalformedFeatures, i, v.SampleRate, rate)
		}
	}
	return TrainMatrix(features.Relatives(vectors), rate, machineID)
}

// TrainMatrix fits a model to raw rows, one row per training sample.
//
// With X the D×N matrix whose columns are the rows, the weights are
// w = X·(XᵀX + λI)⁻¹·1 and the calibration constant is C = atanh(√0.9)/μ
// where μ is the mean cosine similarity of w to the training rows.
func TrainMatrix(rows [][]float64, sampleRate int, machineID string) (*Model, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: training sample rate %d", ErrInvalidSampleRate, sampleRate)
	}
	d, n := len(rows[0]), len(rows)
	if d == 0 {
		return nil, fmt.Errorf("%w: zero-length feature vectors", ErrMalformedFeatures)
	}

	x := mat.NewDense(d, n, nil)
	for j, row := range rows {
		if len(row) != d {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrMalformedFeatures, j, len(row), d)
		}
		for i, v := range row {
			if !finite(v) {
				return nil, fmt.Errorf("%w: vector %d value %d is %v", ErrMalformedFeatures, j, i, v)
			}
			x.Set(i, j, v)
		}
	}

	var g mat.SymDense
	g.SymOuterK(1, x.T())
	for i := 0; i < n; i++ {
		g.SetSym(i, i, g.At(i, i)+Lambda)
	}

	ones := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ones.SetVec(i, 1)
	}
	t, err := solve(&g, ones)
	if err != nil {
		return nil, err
	}

	var w mat.VecDense
	w.MulVec(x, t)
	weights := make([]float64, d)
	for i := range weights {
		weights[i] = w.AtVec(i)
		if !finite(weights[i]) {
			return nil, fmt.Errorf("%w: non-finite weight %d", ErrSingularMatrix, i)
		}
	}

	var sum float64
	for _, row := range rows {
		sum += CosineSimilarity(weights, row)
	}
	mu := sum / float64(n)
	if !finite(mu) || math.Abs(mu) < MinMeanSimilarity {
		return nil, fmt.Errorf("%w: mean similarity %g", ErrInsufficientSignalQuality, mu)
	}
	scaling := math.Atanh(math.Sqrt(TargetScore)) / mu
	if !finite(scaling) {
		return nil, fmt.Errorf("%w: calibration constant %v", ErrInsufficientSignalQuality, scaling)
	}

	return &Model{
		MachineID:  machineID,
		Weights:    weights,
		Lambda:     Lambda,
		Scaling:    scaling,
		Dimension:  d,
		SampleRate: sampleRate,
		CreatedAt:  time.Now().UTC(),
		Metadata: Metadata{
			MeanSimilarity:  mu,
			TargetScore:     TargetScore,
			TrainingVectors: n,
		},
	}, nil
}

// solve returns g⁻¹·b, by Cholesky when g is positive definite and by LU
// with partial pivoting otherwise.
func solve(g *mat.SymDense, b *mat.VecDense) (*mat.VecDense, error) {
	var t mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(g) {
		if err := chol.SolveVecTo(&t, b); err == nil {
			return &t, nil
		}
	}

	var lu mat.LU
	lu.Factorize(g)
	if err := lu.SolveVecTo(&t, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularMatrix, err)
	}
	for i := 0; i < t.Len(); i++ {
		if !finite(t.AtVec(i)) {
			return nil, ErrSingularMatrix
		}
	}
	return &t, nil
}
