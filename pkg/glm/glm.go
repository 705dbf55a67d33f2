// Package glm fits general linear models over the subject data matrix,
// producing per-fixel regression coefficients, effect sizes, residual
// standard deviations and t-statistics for a given contrast. The model
// caches its design pseudo-inverse so the permutation engine can re-evaluate
// thousands of relabeled designs cheaply.
package glm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrContrastCols is returned when the contrast matrix has more columns than
// the design matrix.
var ErrContrastCols = errors.New("too many contrast columns for design matrix")

// rankTolerance scales the singular-value cutoff used to determine the
// design rank.
const rankTolerance = 1e-12

// residualTolerance scales the cutoff, relative to the magnitude of the
// fixel's data, below which a residual standard deviation is treated as
// exact zero. An exactly-fitted fixel accumulates rounding error of order
// machine epsilon times the data scale, never more.
const residualTolerance = 1e-9

// Model is a general linear model for a fixed design matrix. It precomputes
// the Moore-Penrose pseudo-inverse and (XᵀX)⁻¹ once, so every statistic is a
// plain matrix product per call. A Model is immutable after construction.
type Model struct {
	design *mat.Dense
	pinv   *mat.Dense // p x n
	xtxInv *mat.Dense // p x p
	dof    float64
}

// NewModel factorizes the design matrix (subjects x regressors).
func NewModel(design *mat.Dense) (*Model, error) {
	n, p := design.Dims()

	var svd mat.SVD
	if !svd.Factorize(design, mat.SVDThin) {
		return nil, fmt.Errorf("SVD of design matrix failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	rank := 0
	cutoff := rankTolerance * values[0] * math.Max(float64(n), float64(p))
	for _, s := range values {
		if s > cutoff {
			rank++
		}
	}
	if n-rank <= 0 {
		return nil, fmt.Errorf("design matrix leaves no residual degrees of freedom (%d subjects, rank %d)", n, rank)
	}

	// pinv(X) = V S⁺ Uᵀ and (XᵀX)⁻¹ = V S⁻² Vᵀ over non-null singular values.
	sInv := make([]float64, len(values))
	sInv2 := make([]float64, len(values))
	for i, s := range values {
		if s > cutoff {
			sInv[i] = 1.0 / s
			sInv2[i] = 1.0 / (s * s)
		}
	}
	pinv := mat.NewDense(p, n, nil)
	pinv.Product(&v, mat.NewDiagDense(len(sInv), sInv), u.T())
	xtxInv := mat.NewDense(p, p, nil)
	xtxInv.Product(&v, mat.NewDiagDense(len(sInv2), sInv2), v.T())

	m := &Model{
		design: mat.DenseCopyOf(design),
		pinv:   pinv,
		xtxInv: xtxInv,
		dof:    float64(n - rank),
	}
	return m, nil
}

// NumSubjects returns the design row count.
func (m *Model) NumSubjects() int {
	n, _ := m.design.Dims()
	return n
}

// NumRegressors returns the design column count.
func (m *Model) NumRegressors() int {
	_, p := m.design.Dims()
	return p
}

// Betas solves the regression coefficients for every fixel. data is
// fixels x subjects; the result is fixels x regressors.
func (m *Model) Betas(data *mat.Dense) *mat.Dense {
	rows, _ := data.Dims()
	betas := mat.NewDense(rows, m.NumRegressors(), nil)
	betas.Mul(data, m.pinv.T())
	return betas
}

// Stdev returns the per-fixel residual standard deviation,
// sqrt(RSS / dof).
func (m *Model) Stdev(data *mat.Dense) []float64 {
	betas := m.Betas(data)
	rows, cols := data.Dims()
	var fitted mat.Dense
	fitted.Mul(betas, m.design.T())

	stdev := make([]float64, rows)
	for f := 0; f < rows; f++ {
		rss := 0.0
		scale := 0.0
		for s := 0; s < cols; s++ {
			r := data.At(f, s) - fitted.At(f, s)
			rss += r * r
			if a := math.Abs(data.At(f, s)); a > scale {
				scale = a
			}
		}
		s := math.Sqrt(rss / m.dof)
		// An exact fit leaves only rounding noise in the residuals; report
		// zero so downstream statistics stay zero instead of tiny/tiny.
		if s <= residualTolerance*scale {
			s = 0
		}
		stdev[f] = s
	}
	return stdev
}

// AbsEffectSize returns the absolute effect of each contrast row per fixel:
// betas · cᵀ, a fixels x contrasts matrix.
func (m *Model) AbsEffectSize(data, contrast *mat.Dense) *mat.Dense {
	betas := m.Betas(data)
	rows, _ := data.Dims()
	nc, _ := contrast.Dims()
	effect := mat.NewDense(rows, nc, nil)
	effect.Mul(betas, contrast.T())
	return effect
}

// StdEffectSize returns the effect size standardized by the residual
// standard deviation. Fixels with zero residual variance report zero.
func (m *Model) StdEffectSize(data, contrast *mat.Dense) *mat.Dense {
	effect := m.AbsEffectSize(data, contrast)
	stdev := m.Stdev(data)
	rows, cols := effect.Dims()
	for f := 0; f < rows; f++ {
		for c := 0; c < cols; c++ {
			if stdev[f] > 0 {
				effect.Set(f, c, effect.At(f, c)/stdev[f])
			} else {
				effect.Set(f, c, 0)
			}
		}
	}
	return effect
}

// TStatistic computes the t-statistic of each contrast row per fixel:
// cᵀβ / (σ · sqrt(c (XᵀX)⁻¹ cᵀ)). Fixels with zero residual variance
// report t = 0.
func (m *Model) TStatistic(data, contrast *mat.Dense) *mat.Dense {
	effect := m.AbsEffectSize(data, contrast)
	stdev := m.Stdev(data)
	rows, nc := effect.Dims()

	// Per-contrast variance scale c (XᵀX)⁻¹ cᵀ.
	var scale mat.Dense
	scale.Product(contrast, m.xtxInv, contrast.T())

	t := mat.NewDense(rows, nc, nil)
	for c := 0; c < nc; c++ {
		denom := math.Sqrt(scale.At(c, c))
		for f := 0; f < rows; f++ {
			if stdev[f] > 0 && denom > 0 {
				t.Set(f, c, effect.At(f, c)/(stdev[f]*denom))
			}
		}
	}
	return t
}

// PadContrast zero-pads a contrast matrix to the design's regressor count.
// A contrast wider than the design is an error.
func PadContrast(contrast *mat.Dense, regressors int) (*mat.Dense, error) {
	rows, cols := contrast.Dims()
	if cols > regressors {
		return nil, fmt.Errorf("%w: %d > %d", ErrContrastCols, cols, regressors)
	}
	if cols == regressors {
		return contrast, nil
	}
	padded := mat.NewDense(rows, regressors, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			padded.Set(r, c, contrast.At(r, c))
		}
	}
	return padded, nil
}
