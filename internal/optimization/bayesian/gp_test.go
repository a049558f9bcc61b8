package bayesian

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/setpoint/internal/optimization/kernels"
)

func newTestGP(t *testing.T, noise float64) *GP {
	t.Helper()
	kernel, err := kernels.NewRBFKernel([]float64{1.0}, 1.0)
	require.NoError(t, err)
	return NewGP(kernel, noise, zaptest.NewLogger(t))
}

func TestGPFitAndPredict(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	gp := newTestGP(t, 1e-6)
	require.NoError(t, gp.Fit(X, y))

	mean, variance, err := gp.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 1e-3, "should interpolate training point %d", i)
		assert.Less(t, variance.AtVec(i), 1e-3)
		assert.GreaterOrEqual(t, variance.AtVec(i), 0.0)
	}
}

func TestGPWithNoise(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{-1, 0, 1})
	y := mat.NewVecDense(3, []float64{1, 0, 1})

	gp := newTestGP(t, 0.1)
	require.NoError(t, gp.Fit(X, y))

	means, variances, err := gp.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.NotEqual(t, y.AtVec(i), means.AtVec(i), "noisy GP should not interpolate exactly")
		assert.Positive(t, variances.AtVec(i))
	}
}

func TestGPVarianceGrowsAwayFromData(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 0.1})
	y := mat.NewVecDense(2, []float64{0, 1})

	gp := newTestGP(t, 1e-6)
	require.NoError(t, gp.Fit(X, y))

	_, near := gp.PredictPoint([]float64{0.05})
	mean, far := gp.PredictPoint([]float64{10})
	assert.Less(t, near, far)
	assert.InDelta(t, 1.0, far, 1e-6, "prior variance far from data")
	assert.InDelta(t, 0.0, mean, 1e-6, "prior mean far from data")
}

func TestGPFitErrors(t *testing.T) {
	tests := []struct {
		name     string
		X        *mat.Dense
		y        *mat.VecDense
		errorMsg string
	}{
		{
			name:     "nil inputs",
			errorMsg: "input matrices must not be nil",
		},
		{
			name:     "dimension mismatch",
			X:        mat.NewDense(3, 1, []float64{1, 2, 3}),
			y:        mat.NewVecDense(2, []float64{1, 2}),
			errorMsg: "dimension mismatch: X has 3 samples but y has length 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gp := newTestGP(t, 1e-6)
			err := gp.Fit(tt.X, tt.y)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestGPDuplicateInputs(t *testing.T) {
	// Identical rows make K singular without noise; jitter must recover.
	X := mat.NewDense(3, 2, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5})
	y := mat.NewVecDense(3, []float64{1, 1, 1})

	gp := newTestGP(t, 0)
	require.NoError(t, gp.Fit(X, y))

	mean, variance := gp.PredictPoint([]float64{0.5, 0.5})
	assert.InDelta(t, 1.0, mean, 1e-3)
	assert.False(t, math.IsNaN(variance))
}

func TestGPPredictBeforeFit(t *testing.T) {
	gp := newTestGP(t, 1e-6)

	_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
	assert.True(t, errors.Is(err, ErrNotFitted))

	mean, variance := gp.PredictPoint([]float64{0})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 1.0, variance)
}
