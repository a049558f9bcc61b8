package regression

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// errDegenerate means the design carries no usable signal.
var errDegenerate = errors.New("degenerate design matrix")

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// fitScaler computes column statistics of X. Constant columns get unit
// scale; the returned count is the number of columns that vary.
func fitScaler(X [][]float64) (Scaler, int) {
	p := len(X[0])
	s := Scaler{Mean: make([]float64, p), Std: make([]float64, p)}
	col := make([]float64, len(X))
	varying := 0
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		s.Mean[j] = mean
		if std < 1e-12 || math.IsNaN(std) {
			s.Std[j] = 1
			continue
		}
		s.Std[j] = std
		varying++
	}
	return s, varying
}

// Transform returns the standardized copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// ridge is a linear model y = intercept + coef·z fitted on standardized z.
type ridge struct {
	coef      []float64
	intercept float64
	r2        float64
}

func (r ridge) predict(z []float64) float64 {
	y := r.intercept
	for j, c := range r.coef {
		y += c * z[j]
	}
	return y
}

// fitRidge solves (ZᵀZ + λI)β = Zᵀ(y - ȳ) by Cholesky. Z must already be
// standardized, so the intercept is the target mean.
func fitRidge(Z [][]float64, y []float64, lambda float64) (ridge, error) {
	n, p := len(Z), len(Z[0])
	design := mat.NewDense(n, p, nil)
	for i, row := range Z {
		design.SetRow(i, row)
	}

	yMean := stat.Mean(y, nil)
	centered := mat.NewVecDense(n, nil)
	for i, v := range y {
		centered.SetVec(i, v-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, design.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+lambda)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return ridge{}, errDegenerate
	}

	var rhs, beta mat.VecDense
	rhs.MulVec(design.T(), centered)
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return ridge{}, err
	}

	model := ridge{coef: make([]float64, p), intercept: yMean}
	for j := range model.coef {
		c := beta.AtVec(j)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return ridge{}, errDegenerate
		}
		model.coef[j] = c
	}

	fitted := make([]float64, n)
	for i, row := range Z {
		fitted[i] = model.predict(row)
	}
	model.r2 = stat.RSquaredFrom(fitted, y, nil)
	if math.IsNaN(model.r2) || math.IsInf(model.r2, 0) {
		model.r2 = 0
	}
	return model, nil
}
