package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRBFKernel(t *testing.T) {
	tests := []struct {
		name     string
		x1       []float64
		x2       []float64
		ls       []float64
		sv       float64
		expected float64
	}{
		{
			name:     "same point",
			x1:       []float64{1.0, 2.0},
			x2:       []float64{1.0, 2.0},
			ls:       []float64{1.0},
			sv:       1.0,
			expected: 1.0,
		},
		{
			name:     "different points",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{1.0, 1.0},
			ls:       []float64{1.0},
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (1+1) / 1^2)
		},
		{
			name:     "per-dimension length scales",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{2.0, 1.0},
			ls:       []float64{2.0, 0.5},
			sv:       2.0,
			expected: 2 * math.Exp(-0.5*(1+4)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewRBFKernel(tt.ls, tt.sv)
			require.NoError(t, err)

			result := kernel.Eval(tt.x1, tt.x2)
			assert.InDelta(t, tt.expected, result, 1e-10)
			assert.InDelta(t, result, kernel.Eval(tt.x2, tt.x1), 1e-10, "kernel is not symmetric")
		})
	}
}

func TestMatern52Kernel(t *testing.T) {
	tests := []struct {
		name           string
		lengthScales   []float64
		signalVariance float64
		x1, x2         []float64
		expected float64
	}{
		{
			name:           "same point",
			lengthScales:   []float64{1.0},
			signalVariance: 1.0,
			x1:             []float64{1.0, 2.0},
			x2:             []float64{1.0, 2.0},
			expected:       1.0,
		},
		{
			name:           "different points",
			lengthScales:   []float64{1.0},
			signalVariance: 1.0,
			x1:             []float64{0.0, 0.0},
			x2:             []float64{1.0, 1.0},
			expected:       (1.0 + math.Sqrt(5)*math.Sqrt(2) + (5.0/3.0)*2) * math.Exp(-math.Sqrt(5)*math.Sqrt(2)),
		},
		{
			name:           "long axis is ignored",
			lengthScales:   []float64{1.0, 1e9},
			signalVariance: 1.0,
			x1:             []float64{0.0, 0.0},
			x2:             []float64{1.0, 1.0},
			expected:       (1.0 + math.Sqrt(5) + 5.0/3.0) * math.Exp(-math.Sqrt(5)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewMatern52Kernel(tt.lengthScales, tt.signalVariance)
			require.NoError(t, err)

			result := kernel.Eval(tt.x1, tt.x2)
			assert.InDelta(t, tt.expected, result, 1e-8)
			assert.InDelta(t, result, kernel.Eval(tt.x2, tt.x1), 1e-10, "kernel is not symmetric")
		})
	}
}

func TestKernelConstructorsReject(t *testing.T) {
	_, err := NewRBFKernel(nil, 1)
	assert.Error(t, err)
	_, err = NewRBFKernel([]float64{0}, 1)
	assert.Error(t, err)
	_, err = NewMatern52Kernel([]float64{1}, 0)
	assert.Error(t, err)
	_, err = NewMatern52Kernel([]float64{math.NaN()}, 1)
	assert.Error(t, err)
}

func TestKernelHyperparameters(t *testing.T) {
	rbf, err := NewRBFKernel([]float64{1.0}, 1.0)
	require.NoError(t, err)
	matern, err := NewMatern52Kernel([]float64{0.3, 0.3}, 1.0)
	require.NoError(t, err)

	tests := []struct {
		name     string
		kernel   Kernel
		params   []float64
		errorMsg string
	}{
		{
			name:   "RBF valid params",
			kernel: rbf,
			params: []float64{2.0, 3.0},
		},
		{
			name:     "RBF invalid params count",
			kernel:   rbf,
			params:   []float64{1.0},
			errorMsg: "expected 2 hyperparameters, got 1",
		},
		{
			name:     "RBF invalid param value",
			kernel:   rbf,
			params:   []float64{-1.0, 1.0},
			errorMsg: "length scales must be positive, got [-1]",
		},
		{
			name:   "Matern52 valid ARD params",
			kernel: matern,
			params: []float64{0.5, 0.2, 3.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.kernel.Hyperparameters()
			err := tt.kernel.SetHyperparameters(tt.params)

			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errorMsg, err.Error())
				assert.Equal(t, before, tt.kernel.Hyperparameters(), "failed update must not change the kernel")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.params, tt.kernel.Hyperparameters())
		})
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		name     string
		kernel   string
		dims     int
		want     Kernel
		errorMsg string
	}{
		{name: "default", kernel: "", dims: 2, want: &Matern52Kernel{}},
		{name: "matern52", kernel: NameMatern52, dims: 3, want: &Matern52Kernel{}},
		{name: "rbf", kernel: NameRBF, dims: 6, want: &RBFKernel{}},
		{name: "unknown", kernel: "periodic", dims: 2, errorMsg: `unknown kernel "periodic"`},
		{name: "no dimensions", kernel: NameRBF, dims: 0, errorMsg: "at least one dimension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ByName(tt.kernel, tt.dims, 0.3)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, k)

			params := k.Hyperparameters()
			require.Len(t, params, tt.dims+1)
			for _, l := range params[:tt.dims] {
				assert.Equal(t, 0.3, l)
			}
			assert.Equal(t, 1.0, params[tt.dims])
		})
	}
}
