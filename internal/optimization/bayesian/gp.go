package bayesian

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/setpoint/internal/optimization/kernels"
)

var (
	// ErrNotFitted is returned by Predict before Fit succeeds.
	ErrNotFitted = errors.New("gaussian process is not fitted")
	// ErrIllConditioned means no jitter level made the kernel matrix
	// positive definite.
	ErrIllConditioned = errors.New("kernel matrix is not positive definite")
)

const maxJitterAttempts = 8

// GP implements a zero-mean Gaussian Process model for Bayesian Optimization
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training inputs
	X *mat.Dense

	// Precomputed values
	alpha *mat.VecDense
	chol  *mat.Cholesky

	// scratch for single-point predictions
	kstar *mat.VecDense
	v     *mat.VecDense

	logger *zap.Logger
}

// NewGP creates a new Gaussian Process model
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

// Fit fits the GP model to the training data
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return fmt.Errorf("%s: input matrices must not be nil", op)
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return fmt.Errorf("%s: input matrix X must not be empty", op)
	}
	if nSamples != y.Len() {
		return fmt.Errorf("%s: dimension mismatch: X has %d samples but y has length %d",
			op, nSamples, y.Len())
	}

	K := gp.kernelMatrix(X)

	chol, jitter, err := gp.factorize(K)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return fmt.Errorf("%s: solve for alpha: %w", op, err)
	}

	gp.X = mat.DenseCopyOf(X)
	gp.alpha = alpha
	gp.chol = chol
	gp.kstar = mat.NewVecDense(nSamples, nil)
	gp.v = mat.NewVecDense(nSamples, nil)

	gp.logger.Debug("Fitted GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("jitter", jitter),
	)
	return nil
}

// kernelMatrix builds K + noiseVar*I.
func (gp *GP) kernelMatrix(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		x1 := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(x1, x1)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(x1, X.RawRowView(j)))
		}
	}
	return K
}

// factorize retries the Cholesky decomposition with growing diagonal jitter.
func (gp *GP) factorize(K *mat.SymDense) (*mat.Cholesky, float64, error) {
	n := K.SymmetricDim()
	jitter := 0.0
	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		Kj := K
		if jitter > 0 {
			Kj = mat.NewSymDense(n, nil)
			Kj.CopySym(K)
			for i := 0; i < n; i++ {
				Kj.SetSym(i, i, Kj.At(i, i)+jitter)
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(Kj) {
			return &chol, jitter, nil
		}

		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))
		if jitter == 0 {
			jitter = 1e-10
		} else {
			jitter *= 10
		}
	}
	return nil, jitter, ErrIllConditioned
}

// Predict returns the posterior mean and variance at every row of X.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	if X == nil {
		return nil, nil, errors.New("GP.Predict: input matrix X is nil")
	}
	if gp.alpha == nil {
		return nil, nil, ErrNotFitted
	}

	nTest, _ := X.Dims()
	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		mu, v := gp.PredictPoint(X.RawRowView(i))
		mean.SetVec(i, mu)
		variance.SetVec(i, v)
	}
	return mean, variance, nil
}

// PredictPoint returns the posterior mean and variance at x. It reuses
// internal buffers and must not be called concurrently.
func (gp *GP) PredictPoint(x []float64) (float64, float64) {
	if gp.alpha == nil {
		return 0, gp.kernel.Eval(x, x)
	}
	nTrain, _ := gp.X.Dims()
	for j := 0; j < nTrain; j++ {
		gp.kstar.SetVec(j, gp.kernel.Eval(x, gp.X.RawRowView(j)))
	}
	mean := mat.Dot(gp.kstar, gp.alpha)

	if err := gp.chol.SolveVecTo(gp.v, gp.kstar); err != nil {
		return mean, 0
	}
	variance := gp.kernel.Eval(x, x) - mat.Dot(gp.kstar, gp.v)
	if variance < 0 || math.IsNaN(variance) {
		variance = 0
	}
	return mean, variance
}
