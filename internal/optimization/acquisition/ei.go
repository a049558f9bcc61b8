package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
	// Whether we're minimizing (true) or maximizing (false)
	minimize bool
}

// NewExpectedImprovement creates an acquisition for minimization.
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		minimize:     true,
	}
}

// NewMaximizingImprovement creates an acquisition for maximization.
func NewMaximizingImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{bestObserved: bestObserved, xi: xi}
}

// Compute returns EI at a point whose posterior has mean mu and standard
// deviation sigma. The result is never negative.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := mu - ei.bestObserved - ei.xi
	if ei.minimize {
		improvement = ei.bestObserved - mu - ei.xi
	}

	if sigma <= 1e-10 || math.IsNaN(sigma) {
		return math.Max(improvement, 0)
	}

	// EI = improvement * Φ(z) + sigma * φ(z)
	z := improvement / sigma
	eiValue := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	if eiValue < 0 || math.IsNaN(eiValue) {
		return 0
	}
	return eiValue
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// Minimizing reports the optimization direction.
func (ei *ExpectedImprovement) Minimizing() bool {
	return ei.minimize
}
