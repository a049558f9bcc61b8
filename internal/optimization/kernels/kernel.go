package kernels

import (
	"fmt"
	"math"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the length scales followed by the signal variance.
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// Kernel names accepted by ByName.
const (
	NameMatern52 = "matern52"
	NameRBF      = "rbf"
)

// ByName builds the named kernel over dims dimensions, every dimension
// sharing lengthScale and unit signal variance. An empty name is Matérn 5/2.
func ByName(name string, dims int, lengthScale float64) (Kernel, error) {
	if dims < 1 {
		return nil, fmt.Errorf("kernel needs at least one dimension, got %d", dims)
	}
	scales := make([]float64, dims)
	for i := range scales {
		scales[i] = lengthScale
	}
	switch name {
	case "", NameMatern52:
		return NewMatern52Kernel(scales, 1.0)
	case NameRBF:
		return NewRBFKernel(scales, 1.0)
	default:
		return nil, fmt.Errorf("unknown kernel %q (want %s or %s)", name, NameMatern52, NameRBF)
	}
}

// ard holds per-dimension length scales shared by the stationary kernels.
// A single length scale applies to every dimension.
type ard struct {
	lengthScales []float64
	signalVar    float64
}

func newARD(lengthScales []float64, signalVar float64) (ard, error) {
	if len(lengthScales) == 0 {
		return ard{}, fmt.Errorf("at least one length scale is required")
	}
	for _, l := range lengthScales {
		if !(l > 0) {
			return ard{}, fmt.Errorf("length scales must be positive, got %v", lengthScales)
		}
	}
	if !(signalVar > 0) {
		return ard{}, fmt.Errorf("signalVar must be positive, got %v", signalVar)
	}
	return ard{lengthScales: append([]float64(nil), lengthScales...), signalVar: signalVar}, nil
}

// scaledDist2 is the squared distance with every axis divided by its length scale.
func (a ard) scaledDist2(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		l := a.lengthScales[0]
		if len(a.lengthScales) > 1 {
			l = a.lengthScales[i]
		}
		diff := (x1[i] - x2[i]) / l
		sumSq += diff * diff
	}
	return sumSq
}

func (a ard) hyperparameters() []float64 {
	return append(append([]float64(nil), a.lengthScales...), a.signalVar)
}

func (a *ard) set(params []float64) error {
	if len(params) != len(a.lengthScales)+1 {
		return fmt.Errorf("expected %d hyperparameters, got %d", len(a.lengthScales)+1, len(params))
	}
	next, err := newARD(params[:len(params)-1], params[len(params)-1])
	if err != nil {
		return err
	}
	*a = next
	return nil
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct {
	ard
}

// NewRBFKernel creates an RBF kernel with one length scale per dimension,
// or a single shared one.
func NewRBFKernel(lengthScales []float64, signalVar float64) (*RBFKernel, error) {
	a, err := newARD(lengthScales, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{a}, nil
}

// Eval computes the RBF kernel value between x1 and x2
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	return k.signalVar * math.Exp(-0.5*k.scaledDist2(x1, x2))
}

// Hyperparameters implements Kernel.
func (k *RBFKernel) Hyperparameters() []float64 { return k.hyperparameters() }

// SetHyperparameters implements Kernel.
func (k *RBFKernel) SetHyperparameters(params []float64) error { return k.set(params) }

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct {
	ard
}

// NewMatern52Kernel creates a Matérn 5/2 kernel with one length scale per
// dimension, or a single shared one.
func NewMatern52Kernel(lengthScales []float64, signalVar float64) (*Matern52Kernel, error) {
	a, err := newARD(lengthScales, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{a}, nil
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(k.scaledDist2(x1, x2))
	polyTerm := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	expTerm := math.Exp(-math.Sqrt(5) * r)
	return k.signalVar * polyTerm * expTerm
}

// Hyperparameters implements Kernel.
func (k *Matern52Kernel) Hyperparameters() []float64 { return k.hyperparameters() }

// SetHyperparameters implements Kernel.
func (k *Matern52Kernel) SetHyperparameters(params []float64) error { return k.set(params) }
