package bayesian

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/setpoint/internal/optimization"
	"github.com/copyleftdev/setpoint/internal/optimization/kernels"
)

func constantObjective(x []float64) (float64, error) { return 0, nil }

func TestNewBayesianOptimizer(t *testing.T) {
	tests := []struct {
		name        string
		config      optimization.OptimizerConfig
		wantBudget  int
		wantWarmup  int
		expectError string
	}{
		{
			name: "valid configuration",
			config: optimization.OptimizerConfig{
				Objective:    constantObjective,
				Bounds:       [][2]float64{{0, 1}},
				Budget:       10,
				WarmupTrials: 5,
			},
			wantBudget: 10,
			wantWarmup: 5,
		},
		{
			name: "default values",
			config: optimization.OptimizerConfig{
				Objective: constantObjective,
				Bounds:    [][2]float64{{0, 1}},
			},
			wantBudget: defaultBudget,
			wantWarmup: defaultWarmup,
		},
		{
			name: "warmup capped at budget",
			config: optimization.OptimizerConfig{
				Objective:    constantObjective,
				Bounds:       [][2]float64{{0, 1}},
				Budget:       3,
				WarmupTrials: 8,
			},
			wantBudget: 3,
			wantWarmup: 3,
		},
		{
			name: "no objective function",
			config: optimization.OptimizerConfig{
				Bounds: [][2]float64{{0, 1}},
				Budget: 10,
			},
			wantBudget:  10,
			wantWarmup:  defaultWarmup,
			expectError: "objective function is required",
		},
		{
			name: "no bounds",
			config: optimization.OptimizerConfig{
				Objective: constantObjective,
				Budget:    10,
			},
			wantBudget:  10,
			wantWarmup:  defaultWarmup,
			expectError: "at least one dimension is required",
		},
		{
			name: "degenerate bounds",
			config: optimization.OptimizerConfig{
				Objective: constantObjective,
				Bounds:    [][2]float64{{0, 1}, {2, 2}},
				Budget:    10,
			},
			wantBudget:  10,
			wantWarmup:  defaultWarmup,
			expectError: "dimension 1 has degenerate bounds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bo, err := NewBayesianOptimizer(tt.config, WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)
			assert.Equal(t, tt.wantBudget, bo.config.Budget)
			assert.Equal(t, tt.wantWarmup, bo.config.WarmupTrials)
			assert.Equal(t, optimization.PhaseInit, bo.Phase())

			_, err = bo.Optimize(context.Background(), optimization.OptimizerConfig{})
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLatinHypercubeSample(t *testing.T) {
	bo, err := NewBayesianOptimizer(optimization.OptimizerConfig{
		Objective:  constantObjective,
		Bounds:     [][2]float64{{-5, 5}, {100, 200}, {0, 1}},
		RandomSeed: 7,
	})
	require.NoError(t, err)

	const n = 8
	samples := bo.latinHypercubeSample(n)
	require.Len(t, samples, n)

	// Each dimension must hit every stratum exactly once.
	for d := 0; d < 3; d++ {
		strata := make([]int, n)
		for i := range samples {
			v := samples[i][d]
			require.GreaterOrEqual(t, v, 0.0)
			require.Less(t, v, 1.0)
			strata[i] = int(v * n)
		}
		sort.Ints(strata)
		for i, s := range strata {
			assert.Equal(t, i, s, "dimension %d", d)
		}
	}
}

func TestOptimizeMaximizesQuadratic(t *testing.T) {
	objective := func(x []float64) (float64, error) {
		return -math.Pow(x[0]-2, 2) - math.Pow(x[1]+1, 2), nil
	}
	config := optimization.OptimizerConfig{
		Objective:    objective,
		Bounds:       [][2]float64{{-5, 5}, {-5, 5}},
		Budget:       30,
		WarmupTrials: 10,
		Maximize:     true,
		RandomSeed:   42,
	}

	bo, err := NewBayesianOptimizer(config, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	result, err := bo.Optimize(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, result.BestSolution)

	assert.Equal(t, 30, result.Iterations)
	assert.Len(t, result.History, 30)
	assert.Equal(t, optimization.PhaseDone, result.Phase)
	assert.Equal(t, optimization.PhaseDone, bo.Phase())
	assert.Greater(t, result.BestSolution.Value, -1.0)

	for i, eval := range result.History {
		assert.Equal(t, i, eval.Iteration)
		if i < 10 {
			assert.Equal(t, optimization.PhaseWarmup, eval.Phase)
		} else {
			assert.Equal(t, optimization.PhaseGuided, eval.Phase)
		}
		for d, p := range eval.Solution.Parameters {
			assert.GreaterOrEqual(t, p, config.Bounds[d][0])
			assert.LessOrEqual(t, p, config.Bounds[d][1])
		}
		assert.LessOrEqual(t, eval.Solution.Value, result.BestSolution.Value)
	}
	assert.Equal(t, result.BestSolution, bo.GetBestSolution())
	assert.Len(t, bo.GetHistory(), 30)
}

func TestOptimizeMinimizes(t *testing.T) {
	config := optimization.OptimizerConfig{
		Objective: func(x []float64) (float64, error) {
			return (x[0] - 0.3) * (x[0] - 0.3), nil
		},
		Bounds:       [][2]float64{{0, 1}},
		Budget:       15,
		WarmupTrials: 5,
		RandomSeed:   3,
	}

	bo, err := NewBayesianOptimizer(config)
	require.NoError(t, err)
	result, err := bo.Optimize(context.Background(), config)
	require.NoError(t, err)

	assert.Less(t, result.BestSolution.Value, 0.01)
	for _, eval := range result.History {
		assert.GreaterOrEqual(t, eval.Solution.Value, result.BestSolution.Value)
	}
}

func TestOptimizeIsReproducible(t *testing.T) {
	run := func() []optimization.Evaluation {
		config := optimization.OptimizerConfig{
			Objective: func(x []float64) (float64, error) {
				return math.Sin(3*x[0]) + x[1], nil
			},
			Bounds:       [][2]float64{{0, 2}, {0, 1}},
			Budget:       14,
			WarmupTrials: 6,
			Maximize:     true,
			RandomSeed:   99,
		}
		bo, err := NewBayesianOptimizer(config)
		require.NoError(t, err)
		result, err := bo.Optimize(context.Background(), config)
		require.NoError(t, err)
		return result.History
	}

	first, second := run(), run()
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Solution.Parameters, second[i].Solution.Parameters)
	}
}

func TestOptimizeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	config := optimization.OptimizerConfig{
		Objective: func(x []float64) (float64, error) {
			calls++
			if calls == 3 {
				cancel()
			}
			return x[0], nil
		},
		Bounds:       [][2]float64{{0, 1}},
		Budget:       20,
		WarmupTrials: 5,
		RandomSeed:   1,
	}

	bo, err := NewBayesianOptimizer(config)
	require.NoError(t, err)

	result, err := bo.Optimize(ctx, config)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 3, calls)
}

func TestOptimizeStop(t *testing.T) {
	var bo *BayesianOptimizer
	calls := 0
	config := optimization.OptimizerConfig{
		Objective: func(x []float64) (float64, error) {
			calls++
			if calls == 2 {
				bo.Stop()
			}
			return x[0], nil
		},
		Bounds:       [][2]float64{{0, 1}},
		Budget:       10,
		WarmupTrials: 5,
		RandomSeed:   1,
	}

	var err error
	bo, err = NewBayesianOptimizer(config)
	require.NoError(t, err)
	bo.Stop() // no-op before a run

	_, err = bo.Optimize(context.Background(), config)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestOptimizeObjectiveErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		objective optimization.ObjectiveFunction
		errorMsg  string
	}{
		{
			name:      "objective error",
			objective: func([]float64) (float64, error) { return 0, boom },
			errorMsg:  "error evaluating objective at iteration 0",
		},
		{
			name:      "non-finite value",
			objective: func([]float64) (float64, error) { return math.NaN(), nil },
			errorMsg:  "non-finite value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := optimization.OptimizerConfig{
				Objective: tt.objective,
				Bounds:    [][2]float64{{0, 1}},
				Budget:    5,
			}
			bo, err := NewBayesianOptimizer(config)
			require.NoError(t, err)

			result, err := bo.Optimize(context.Background(), config)
			assert.Nil(t, result)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestOptimizeFlatObjectiveStillExplores(t *testing.T) {
	config := optimization.OptimizerConfig{
		Objective:    constantObjective,
		Bounds:       [][2]float64{{0, 1}, {0, 1}},
		Budget:       12,
		WarmupTrials: 4,
		Maximize:     true,
		RandomSeed:   5,
	}
	bo, err := NewBayesianOptimizer(config)
	require.NoError(t, err)

	result, err := bo.Optimize(context.Background(), config)
	require.NoError(t, err)
	assert.Len(t, result.History, 12)

	seen := map[[2]float64]bool{}
	for _, eval := range result.History {
		key := [2]float64{eval.Solution.Parameters[0], eval.Solution.Parameters[1]}
		assert.False(t, seen[key], "duplicate proposal %v", key)
		seen[key] = true
	}
}

func TestSurrogateOptions(t *testing.T) {
	objective := func(x []float64) (float64, error) {
		return -math.Pow(x[0]-2, 2) - math.Pow(x[1]+1, 2), nil
	}
	config := optimization.OptimizerConfig{
		Objective:    objective,
		Bounds:       [][2]float64{{-5, 5}, {-5, 5}},
		Budget:       20,
		WarmupTrials: 8,
		Maximize:     true,
		RandomSeed:   3,
	}
	rbf, err := kernels.ByName(kernels.NameRBF, 2, DefaultLengthScale)
	require.NoError(t, err)

	bo, err := NewBayesianOptimizer(config, WithKernel(rbf), WithNoise(1e-3), WithXi(0.1))
	require.NoError(t, err)
	assert.Same(t, rbf, bo.kernel)
	assert.Equal(t, 1e-3, bo.noiseVar)
	assert.Equal(t, 0.1, bo.xi)

	result, err := bo.Optimize(context.Background(), config)
	require.NoError(t, err)
	assert.Len(t, result.History, 20)
	assert.Equal(t, optimization.PhaseGuided, result.History[19].Phase)

	tests := []struct {
		name     string
		opt      Option
		errorMsg string
	}{
		{"zero noise", WithNoise(0), "noise variance must be positive"},
		{"negative xi", WithXi(-0.5), "exploration margin must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBayesianOptimizer(config, tt.opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}
