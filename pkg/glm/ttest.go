package glm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Shuffle relabels the subjects of a design matrix. Order permutes the
// design rows; Signs, when non-nil, flips the sign of each subject's row
// (for one-sample sign-flip testing). The identity Shuffle reproduces the
// observed statistic.
type Shuffle struct {
	Order []int
	Signs []float64
}

// Identity returns the shuffle that leaves n subjects unchanged.
func Identity(n int) Shuffle {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return Shuffle{Order: order}
}

// TTest evaluates the t-statistic field of a fixed (data, design, contrast)
// triple under arbitrary subject relabelings. The unpermuted model is built
// once; each call factorizes only the relabeled design.
type TTest struct {
	data     *mat.Dense
	design   *mat.Dense
	contrast *mat.Dense
}

// NewTTest validates dimensions and zero-pads the contrast. data is
// fixels x subjects, design subjects x regressors, contrast
// contrasts x regressors (or narrower).
func NewTTest(data, design, contrast *mat.Dense) (*TTest, error) {
	_, subjects := data.Dims()
	rows, regressors := design.Dims()
	if rows != subjects {
		return nil, fmt.Errorf("design has %d rows for %d subjects", rows, subjects)
	}
	padded, err := PadContrast(contrast, regressors)
	if err != nil {
		return nil, err
	}
	return &TTest{data: data, design: design, contrast: padded}, nil
}

// NumFixels returns the data row count.
func (tt *TTest) NumFixels() int {
	rows, _ := tt.data.Dims()
	return rows
}

// NumSubjects returns the data column count.
func (tt *TTest) NumSubjects() int {
	_, cols := tt.data.Dims()
	return cols
}

// Compute returns the per-fixel t-statistic of the first contrast row under
// the given shuffle.
func (tt *TTest) Compute(shuffle Shuffle) ([]float64, error) {
	n, p := tt.design.Dims()
	if len(shuffle.Order) != n {
		return nil, fmt.Errorf("shuffle order length %d does not match %d subjects", len(shuffle.Order), n)
	}

	permuted := mat.NewDense(n, p, nil)
	for row, src := range shuffle.Order {
		sign := 1.0
		if shuffle.Signs != nil {
			sign = shuffle.Signs[row]
		}
		for c := 0; c < p; c++ {
			permuted.Set(row, c, sign*tt.design.At(src, c))
		}
	}

	model, err := NewModel(permuted)
	if err != nil {
		return nil, fmt.Errorf("relabeled design is degenerate: %w", err)
	}
	t := model.TStatistic(tt.data, tt.contrast)
	out := make([]float64, tt.NumFixels())
	for f := range out {
		out[f] = t.At(f, 0)
	}
	return out, nil
}
