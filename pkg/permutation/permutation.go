// Package permutation builds the empirical null distribution of the maximum
// enhanced statistic under subject relabeling, and converts observed
// enhanced statistics into family-wise-error-corrected p-values.
package permutation

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fixelstats/pkg/enhance"
	"fixelstats/pkg/glm"
)

// Options configures a permutation run.
type Options struct {
	// Permutations is the null distribution size P.
	Permutations int

	// Seed makes the run reproducible: identical inputs and seed yield
	// byte-identical null distributions and p-values.
	Seed int64

	// SignFlip switches from label permutation to sign-flip relabeling,
	// appropriate for single-column (one-sample) designs.
	SignFlip bool

	// Workers bounds the parallelism of the permutation loop. Zero means
	// runtime.NumCPU().
	Workers int
}

// EmpiricalScale is the optional per-fixel nonstationarity correction: the
// empirical maximum enhancement observed over an auxiliary permutation set,
// taken across both tails so one scale serves both directions.
// Holding a nil *EmpiricalScale means the correction was not requested.
type EmpiricalScale struct {
	Values []float64
}

// Apply divides an enhanced field elementwise by the scale, in place.
func (s *EmpiricalScale) Apply(enhanced []float64) {
	for i := range enhanced {
		enhanced[i] /= s.Values[i]
	}
}

// Result holds the outputs of a permutation run. The null distributions are
// ordered by permutation slot and are read-only once Run returns.
type Result struct {
	NullPos, NullNeg []float64 // max enhanced statistic per permutation, per tail
	CFEPos, CFENeg   []float64 // observed (unpermuted) enhanced fields
	TValues          []float64 // observed t-statistic field
}

// generate produces count relabelings up front from one seeded source, so
// the sequence is independent of how the parallel loop schedules them.
func generate(rng *rand.Rand, count, subjects int, signFlip bool) []glm.Shuffle {
	shuffles := make([]glm.Shuffle, count)
	for i := range shuffles {
		if signFlip {
			signs := make([]float64, subjects)
			for s := range signs {
				if rng.Intn(2) == 0 {
					signs[s] = 1
				} else {
					signs[s] = -1
				}
			}
			sh := glm.Identity(subjects)
			sh.Signs = signs
			shuffles[i] = sh
		} else {
			shuffles[i] = glm.Shuffle{Order: rng.Perm(subjects)}
		}
	}
	return shuffles
}

func maxOf(field []float64) float64 {
	m := field[0]
	for _, v := range field[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// PrecomputeEmpirical estimates the per-fixel empirical maximum-enhancement
// scale from an auxiliary set of permutations, used to correct for spatially
// uneven connectivity density. Fixels never enhanced by any auxiliary
// permutation keep a scale of 1 so division is a no-op there.
func PrecomputeEmpirical(ctx context.Context, tt *glm.TTest, enh *enhance.Enhancer, permutations int, opts Options, logger *zap.Logger) (*EmpiricalScale, error) {
	if permutations < 1 {
		return nil, fmt.Errorf("nonstationarity requires at least one permutation")
	}
	// Offset seed keeps the auxiliary sequence disjoint from the main run.
	rng := rand.New(rand.NewSource(opts.Seed + 1))
	shuffles := generate(rng, permutations, tt.NumSubjects(), opts.SignFlip)

	logger.Info("precomputing empirical statistic for nonstationarity correction",
		zap.Int("permutations", permutations))

	scales := make([][]float64, permutations)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(opts))
	for p := 0; p < permutations; p++ {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tvals, err := tt.Compute(shuffles[p])
			if err != nil {
				return err
			}
			pos, neg := enh.EnhanceBothTails(tvals)
			for f := range pos {
				if neg[f] > pos[f] {
					pos[f] = neg[f]
				}
			}
			scales[p] = pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	values := make([]float64, tt.NumFixels())
	for _, field := range scales {
		for f, v := range field {
			if v > values[f] {
				values[f] = v
			}
		}
	}
	for f, v := range values {
		if v <= 0 {
			values[f] = 1
		}
	}
	return &EmpiricalScale{Values: values}, nil
}

// Run executes the permutation protocol. The observed field is computed
// first from the identity relabeling; then each of P random permutations
// re-fits the GLM under a relabeled design, enhances the resulting statistic
// field on both tails, optionally rescales by the empirical nonstationarity
// scale, and records the field maximum into that permutation's slot. Each
// permutation reads only shared immutable state and writes its own slot, so
// the loop needs no cross-permutation locking. The observed statistic is not
// part of the null distribution; the "+1" in the p-value formula accounts
// for it.
func Run(ctx context.Context, tt *glm.TTest, enh *enhance.Enhancer, empirical *EmpiricalScale, opts Options, logger *zap.Logger) (*Result, error) {
	if opts.Permutations < 1 {
		return nil, fmt.Errorf("permutation count must be at least 1")
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	shuffles := generate(rng, opts.Permutations, tt.NumSubjects(), opts.SignFlip)

	logger.Info("running permutation testing",
		zap.Int("permutations", opts.Permutations),
		zap.Bool("sign_flip", opts.SignFlip),
		zap.Bool("nonstationarity", empirical != nil))

	res := &Result{
		NullPos: make([]float64, opts.Permutations),
		NullNeg: make([]float64, opts.Permutations),
	}

	observed, err := tt.Compute(glm.Identity(tt.NumSubjects()))
	if err != nil {
		return nil, err
	}
	res.TValues = observed
	res.CFEPos, res.CFENeg = enh.EnhanceBothTails(observed)
	if empirical != nil {
		empirical.Apply(res.CFEPos)
		empirical.Apply(res.CFENeg)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount(opts))
	for p := 0; p < opts.Permutations; p++ {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tvals, err := tt.Compute(shuffles[p])
			if err != nil {
				return err
			}
			pos, neg := enh.EnhanceBothTails(tvals)
			if empirical != nil {
				empirical.Apply(pos)
				empirical.Apply(neg)
			}
			res.NullPos[p] = maxOf(pos)
			res.NullNeg[p] = maxOf(neg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// PValues converts observed enhanced statistics into family-wise-corrected
// p-values against the null distribution of the image-wide maximum:
// p = (1 + #{null >= s}) / (P + 1). The smallest attainable p-value is
// exactly 1/(P+1).
func PValues(null, observed []float64) []float64 {
	sorted := append([]float64(nil), null...)
	sort.Float64s(sorted)

	out := make([]float64, len(observed))
	for i, s := range observed {
		ge := len(sorted) - sort.SearchFloat64s(sorted, s)
		out[i] = (1.0 + float64(ge)) / (float64(len(sorted)) + 1.0)
	}
	return out
}

func workerCount(opts Options) int {
	if opts.Workers > 0 {
		return opts.Workers
	}
	return runtime.NumCPU()
}
