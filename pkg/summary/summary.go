// Package summary computes descriptive statistics over per-fixel value
// fields and renders them as a text report: mean, median, standard
// deviation, min, max, count and an optional fixed-bin histogram.
package summary

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary accumulates a stream of values. Non-finite values are always
// ignored; zeros are ignored when requested (sparse fields use zero as the
// absent value).
type Summary struct {
	ignoreZero bool
	values     []float64
	min, max   float64
	hist       *Histogram
}

// New returns an empty accumulator.
func New(ignoreZero bool) *Summary {
	return &Summary{
		ignoreZero: ignoreZero,
		min:        math.Inf(1),
		max:        math.Inf(-1),
	}
}

// WithHistogram attaches a fixed-bin histogram covering [lo, hi).
func (s *Summary) WithHistogram(lo, hi float64, bins int) *Summary {
	s.hist = NewHistogram(lo, hi, bins)
	return s
}

// Add feeds one value into the accumulator.
func (s *Summary) Add(v float64) {
	if !isUsable(v, s.ignoreZero) {
		return
	}
	s.values = append(s.values, v)
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if s.hist != nil {
		s.hist.Add(v)
	}
}

// AddAll feeds a whole field.
func (s *Summary) AddAll(values []float64) {
	for _, v := range values {
		s.Add(v)
	}
}

func isUsable(v float64, ignoreZero bool) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return !(ignoreZero && v == 0)
}

// Count returns the number of accumulated values.
func (s *Summary) Count() int { return len(s.values) }

// Mean returns the sample mean, or NaN when empty.
func (s *Summary) Mean() float64 {
	if len(s.values) == 0 {
		return math.NaN()
	}
	return stat.Mean(s.values, nil)
}

// Std returns the population standard deviation, or NaN when fewer than two
// values were seen.
func (s *Summary) Std() float64 {
	if len(s.values) < 2 {
		return math.NaN()
	}
	mean := stat.Mean(s.values, nil)
	ss := 0.0
	for _, v := range s.values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(s.values)))
}

// Median returns the sample median, or NaN when empty.
func (s *Summary) Median() float64 {
	if len(s.values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), s.values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// Min returns the smallest accumulated value, or NaN when empty.
func (s *Summary) Min() float64 {
	if len(s.values) == 0 {
		return math.NaN()
	}
	return s.min
}

// Max returns the largest accumulated value, or NaN when empty.
func (s *Summary) Max() float64 {
	if len(s.values) == 0 {
		return math.NaN()
	}
	return s.max
}

// Histogram returns the attached histogram, or nil.
func (s *Summary) Histogram() *Histogram { return s.hist }

// PrintHeader writes the report column headings.
func PrintHeader(w io.Writer) {
	fmt.Fprintf(w, "%15s %12s %12s %12s %12s %12s %12s\n",
		"volume", "mean", "median", "std. dev.", "min", "max", "count")
}

// Print writes one report row for the accumulated field.
func (s *Summary) Print(w io.Writer, label string) {
	if s.Count() == 0 {
		fmt.Fprintf(w, "%15s %12s %12s %12s %12s %12s %12d\n",
			label, "N/A", "N/A", "N/A", "N/A", "N/A", 0)
		return
	}
	fmt.Fprintf(w, "%15s %12.6g %12.6g %12.6g %12.6g %12.6g %12d\n",
		label, s.Mean(), s.Median(), s.Std(), s.Min(), s.Max(), s.Count())
}

// Histogram counts values into equal-width bins over [lo, hi). Values
// outside the range clamp to the boundary bins.
type Histogram struct {
	lo, hi float64
	counts []int
}

// NewHistogram allocates bins equal-width bins covering [lo, hi).
func NewHistogram(lo, hi float64, bins int) *Histogram {
	if bins < 1 {
		bins = 1
	}
	return &Histogram{lo: lo, hi: hi, counts: make([]int, bins)}
}

// Add counts a value into its bin.
func (h *Histogram) Add(v float64) {
	idx := int((v - h.lo) / (h.hi - h.lo) * float64(len(h.counts)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(h.counts) {
		idx = len(h.counts) - 1
	}
	h.counts[idx]++
}

// Counts returns the per-bin totals.
func (h *Histogram) Counts() []int { return h.counts }

// BinCentre returns the midpoint value of bin i.
func (h *Histogram) BinCentre(i int) float64 {
	width := (h.hi - h.lo) / float64(len(h.counts))
	return h.lo + (float64(i)+0.5)*width
}
