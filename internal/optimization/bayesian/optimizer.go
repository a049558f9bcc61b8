package bayesian

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/setpoint/internal/optimization"
	"github.com/copyleftdev/setpoint/internal/optimization/acquisition"
	"github.com/copyleftdev/setpoint/internal/optimization/kernels"
)

const (
	defaultBudget       = 50
	defaultWarmup       = 10
	defaultNoiseVar     = 1e-4
	defaultXi           = 0.01
	acquisitionEvalsCap = 100
)

// DefaultLengthScale is the kernel length scale in unit cube coordinates.
const DefaultLengthScale = 0.3

var _ optimization.Optimizer = (*BayesianOptimizer)(nil)

// Option customizes a BayesianOptimizer.
type Option func(*BayesianOptimizer)

// WithLogger routes optimizer and GP logs to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(bo *BayesianOptimizer) {
		if logger != nil {
			bo.logger = logger
		}
	}
}

// WithKernel replaces the default Matérn 5/2 kernel. Inputs are scaled to
// the unit cube before the kernel sees them.
func WithKernel(k kernels.Kernel) Option {
	return func(bo *BayesianOptimizer) { bo.kernel = k }
}

// WithNoise sets the GP observation noise variance on standardized targets.
func WithNoise(v float64) Option {
	return func(bo *BayesianOptimizer) { bo.noiseVar = v }
}

// WithXi sets the EI exploration margin.
func WithXi(xi float64) Option {
	return func(bo *BayesianOptimizer) { bo.xi = xi }
}

// BayesianOptimizer runs a space-filling warmup followed by GP-guided
// proposals that maximize Expected Improvement. Proposals are made in unit
// cube coordinates and scaled to the configured bounds before evaluation.
type BayesianOptimizer struct {
	config   optimization.OptimizerConfig
	kernel   kernels.Kernel
	noiseVar float64
	xi       float64
	rng      *rand.Rand
	logger   *zap.Logger

	mu           sync.Mutex
	phase        optimization.Phase
	bestSolution *optimization.Solution
	history      []optimization.Evaluation
	unit         [][]float64
	cancel       context.CancelFunc
}

// NewBayesianOptimizer creates a new Bayesian Optimizer
func NewBayesianOptimizer(config optimization.OptimizerConfig, opts ...Option) (*BayesianOptimizer, error) {
	if config.Budget < 1 {
		config.Budget = defaultBudget
	}
	if config.WarmupTrials < 1 {
		config.WarmupTrials = defaultWarmup
	}
	if config.WarmupTrials > config.Budget {
		config.WarmupTrials = config.Budget
	}

	seed := config.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	bo := &BayesianOptimizer{
		config:   config,
		noiseVar: defaultNoiseVar,
		xi:       defaultXi,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   zap.NewNop(),
		phase:    optimization.PhaseInit,
	}
	for _, opt := range opts {
		opt(bo)
	}
	bo.logger = bo.logger.Named("bayesian")

	if bo.kernel == nil && len(config.Bounds) > 0 {
		k, err := kernels.ByName(kernels.NameMatern52, len(config.Bounds), DefaultLengthScale)
		if err != nil {
			return nil, err
		}
		bo.kernel = k
	}
	if !(bo.noiseVar > 0) {
		return nil, fmt.Errorf("noise variance must be positive, got %g", bo.noiseVar)
	}
	if bo.xi < 0 {
		return nil, fmt.Errorf("exploration margin must not be negative, got %g", bo.xi)
	}
	return bo, nil
}

// Optimize runs the search. A non-nil Objective in config replaces the one
// given at construction. When ctx is cancelled the partial run is discarded
// and ctx.Err() is returned.
func (bo *BayesianOptimizer) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	if config.Objective != nil {
		bo.config.Objective = config.Objective
	}
	cfg := bo.config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}
	if bo.kernel == nil {
		return nil, fmt.Errorf("no kernel configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bo.mu.Lock()
	bo.cancel = cancel
	bo.phase = optimization.PhaseInit
	bo.bestSolution = nil
	bo.history = make([]optimization.Evaluation, 0, cfg.Budget)
	bo.unit = make([][]float64, 0, cfg.Budget)
	bo.mu.Unlock()

	warmup := bo.latinHypercubeSample(cfg.WarmupTrials)
	gp := NewGP(bo.kernel, bo.noiseVar, bo.logger)

	for i := 0; i < cfg.Budget; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var u []float64
		phase := optimization.PhaseWarmup
		if i < len(warmup) {
			u = warmup[i]
		} else {
			phase = optimization.PhaseGuided
			u = bo.propose(gp)
		}
		bo.setPhase(phase)

		x := bo.scale(u)
		value, err := cfg.Objective(x)
		if err != nil {
			return nil, fmt.Errorf("error evaluating objective at iteration %d: %w", i, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("objective returned non-finite value %v at iteration %d", value, i)
		}

		bo.record(i, phase, u, x, value)
	}

	bo.mu.Lock()
	defer bo.mu.Unlock()
	bo.phase = optimization.PhaseDone
	return &optimization.OptimizationResult{
		BestSolution: bo.bestSolution,
		History:      append([]optimization.Evaluation(nil), bo.history...),
		Iterations:   len(bo.history),
		Phase:        optimization.PhaseDone,
	}, nil
}

func (bo *BayesianOptimizer) setPhase(p optimization.Phase) {
	bo.mu.Lock()
	bo.phase = p
	bo.mu.Unlock()
}

func (bo *BayesianOptimizer) record(i int, phase optimization.Phase, u, x []float64, value float64) {
	bo.mu.Lock()
	defer bo.mu.Unlock()

	sol := &optimization.Solution{Parameters: x, Value: value}
	bo.history = append(bo.history, optimization.Evaluation{Iteration: i, Phase: phase, Solution: sol})
	bo.unit = append(bo.unit, u)
	if bo.bestSolution == nil || bo.config.Better(value, bo.bestSolution.Value) {
		bo.bestSolution = &optimization.Solution{
			Parameters: append([]float64(nil), x...),
			Value:      value,
		}
	}
}

// GetBestSolution returns the best solution found so far
func (bo *BayesianOptimizer) GetBestSolution() *optimization.Solution {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.bestSolution
}

// GetHistory returns the history of evaluations
func (bo *BayesianOptimizer) GetHistory() []optimization.Evaluation {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return append([]optimization.Evaluation(nil), bo.history...)
}

// Phase reports the current search stage.
func (bo *BayesianOptimizer) Phase() optimization.Phase {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.phase
}

// Stop stops the optimization process
func (bo *BayesianOptimizer) Stop() {
	bo.mu.Lock()
	cancel := bo.cancel
	bo.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// scale maps a unit-cube point into the configured bounds.
func (bo *BayesianOptimizer) scale(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, b := range bo.config.Bounds {
		x[i] = math.Min(b[1], math.Max(b[0], b[0]+u[i]*(b[1]-b[0])))
	}
	return x
}

// prepareTrainingData returns the unit-cube inputs and standardized targets,
// sign-flipped when minimizing so the surrogate always maximizes.
func (bo *BayesianOptimizer) prepareTrainingData() (*mat.Dense, *mat.VecDense, float64) {
	bo.mu.Lock()
	defer bo.mu.Unlock()

	nSamples := len(bo.history)
	nDims := len(bo.config.Bounds)
	X := mat.NewDense(nSamples, nDims, nil)
	targets := make([]float64, nSamples)
	for i, eval := range bo.history {
		X.SetRow(i, bo.unit[i])
		targets[i] = eval.Solution.Value
		if !bo.config.Maximize {
			targets[i] = -targets[i]
		}
	}

	mean, std := stat.MeanStdDev(targets, nil)
	if std < 1e-12 || math.IsNaN(std) {
		std = 1
	}
	for i := range targets {
		targets[i] = (targets[i] - mean) / std
	}
	return X, mat.NewVecDense(nSamples, targets), floats.Max(targets)
}

// propose fits the surrogate and returns the next unit-cube point. It falls
// back to a uniform random point when the surrogate cannot be fitted or
// expects no improvement anywhere.
func (bo *BayesianOptimizer) propose(gp *GP) []float64 {
	X, y, best := bo.prepareTrainingData()
	if err := gp.Fit(X, y); err != nil {
		bo.logger.Warn("Surrogate fit failed, sampling at random", zap.Error(err))
		return bo.randomPoint()
	}

	ei := acquisition.NewMaximizingImprovement(best, bo.xi)
	next, value := bo.maximizeAcquisition(gp, ei, X)
	if value <= 1e-12 || bo.isDuplicate(X, next) {
		bo.logger.Debug("No expected improvement, exploring", zap.Float64("ei", value))
		return bo.randomPoint()
	}
	return next
}

func (bo *BayesianOptimizer) randomPoint() []float64 {
	u := make([]float64, len(bo.config.Bounds))
	for i := range u {
		u[i] = bo.rng.Float64()
	}
	return u
}

func (bo *BayesianOptimizer) isDuplicate(X *mat.Dense, u []float64) bool {
	n, _ := X.Dims()
	for i := 0; i < n; i++ {
		if floats.Distance(X.RawRowView(i), u, 2) < 1e-6 {
			return true
		}
	}
	return false
}

// latinHypercubeSample generates n stratified points in the unit cube.
func (bo *BayesianOptimizer) latinHypercubeSample(n int) [][]float64 {
	nDims := len(bo.config.Bounds)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	strata := make([]float64, n)
	for i := 0; i < nDims; i++ {
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + bo.rng.Float64()) / float64(n)
		}
		bo.rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})
		for j := 0; j < n; j++ {
			samples[j][i] = strata[j]
		}
	}
	return samples
}

// maximizeAcquisition runs Nelder-Mead from the incumbent and several random
// starts, returning the unit-cube point with the highest EI and that EI.
func (bo *BayesianOptimizer) maximizeAcquisition(gp *GP, ei *acquisition.ExpectedImprovement, X *mat.Dense) ([]float64, float64) {
	nDims := len(bo.config.Bounds)
	clipped := make([]float64, nDims)

	negEI := func(u []float64) float64 {
		for i, v := range u {
			clipped[i] = math.Max(0, math.Min(1, v))
		}
		mu, variance := gp.PredictPoint(clipped)
		return -ei.Compute(mu, math.Sqrt(variance))
	}

	nStarts := 4 + nDims
	starts := make([][]float64, 0, nStarts)
	if incumbent := bo.incumbentUnit(); incumbent != nil {
		starts = append(starts, incumbent)
	}
	for len(starts) < nStarts {
		starts = append(starts, bo.randomPoint())
	}

	problem := optimize.Problem{Func: negEI}
	settings := &optimize.Settings{
		FuncEvaluations: acquisitionEvalsCap,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-6,
			Iterations: 20,
		},
	}

	bestX := starts[0]
	bestVal := negEI(bestX)
	for _, start := range starts {
		method := &optimize.NelderMead{SimplexSize: 0.1}
		result, err := optimize.Minimize(problem, start, settings, method)
		if result == nil || math.IsNaN(result.F) {
			if err != nil {
				bo.logger.Debug("Acquisition search failed", zap.Error(err))
			}
			continue
		}
		if result.F < bestVal {
			bestVal = result.F
			bestX = append([]float64(nil), result.X...)
		}
	}

	for i, v := range bestX {
		bestX[i] = math.Max(0, math.Min(1, v))
	}
	return bestX, -bestVal
}

func (bo *BayesianOptimizer) incumbentUnit() []float64 {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	if bo.bestSolution == nil {
		return nil
	}
	for i := len(bo.history) - 1; i >= 0; i-- {
		if bo.history[i].Solution.Value == bo.bestSolution.Value {
			return append([]float64(nil), bo.unit[i]...)
		}
	}
	return nil
}
