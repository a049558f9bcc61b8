// Package optimization defines the black-box search contract shared by the
// advisor and the surrogate-based optimizer.
package optimization

import (
	"context"
	"fmt"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the search until the budget is spent or ctx is done.
	Optimize(ctx context.Context, config OptimizerConfig) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of evaluations
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// Phase is the search stage an evaluation was proposed in.
type Phase string

const (
	PhaseInit   Phase = "init"
	PhaseWarmup Phase = "warmup"
	PhaseGuided Phase = "guided"
	PhaseDone   Phase = "done"
)

// OptimizerConfig contains configuration for the optimizer
type OptimizerConfig struct {
	// Objective function to optimize
	Objective ObjectiveFunction

	// Bounds for each dimension [min, max]
	Bounds [][2]float64

	// Budget is the total number of objective evaluations.
	Budget int

	// WarmupTrials are space-filling evaluations made before the surrogate
	// is consulted.
	WarmupTrials int

	// Maximize selects maximization; the default minimizes.
	Maximize bool

	// Random seed for reproducibility; zero seeds from the clock.
	RandomSeed int64
}

// Validate checks the configuration before any evaluation happens.
func (c OptimizerConfig) Validate() error {
	if c.Objective == nil {
		return fmt.Errorf("objective function is required")
	}
	if len(c.Bounds) == 0 {
		return fmt.Errorf("at least one dimension is required")
	}
	for i, b := range c.Bounds {
		if !(b[0] < b[1]) {
			return fmt.Errorf("dimension %d has degenerate bounds [%g, %g]", i, b[0], b[1])
		}
	}
	if c.Budget < 1 {
		return fmt.Errorf("budget must be positive, got %d", c.Budget)
	}
	if c.WarmupTrials < 1 {
		return fmt.Errorf("warmup trials must be positive, got %d", c.WarmupTrials)
	}
	return nil
}

// Better reports whether a improves on b in the configured direction.
func (c OptimizerConfig) Better(a, b float64) bool {
	if c.Maximize {
		return a > b
	}
	return a < b
}

// ObjectiveFunction defines the function to be optimized
type ObjectiveFunction func([]float64) (float64, error)

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents a single evaluation of the objective function
type Evaluation struct {
	Iteration int
	Phase     Phase
	Solution  *Solution
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Phase        Phase
}
