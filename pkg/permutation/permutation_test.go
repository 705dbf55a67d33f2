package permutation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"fixelstats/pkg/connectivity"
	"fixelstats/pkg/enhance"
	"fixelstats/pkg/glm"
)

// testPipeline builds a two-fixel, ten-subject two-group problem with a
// strong effect at fixel 0 and noise at fixel 1, over a self-only graph.
func testPipeline(t *testing.T) (*glm.TTest, *enhance.Enhancer) {
	t.Helper()
	design := mat.NewDense(10, 2, nil)
	for s := 0; s < 5; s++ {
		design.Set(s, 0, 1)
	}
	for s := 5; s < 10; s++ {
		design.Set(s, 1, 1)
	}
	data := mat.NewDense(2, 10, []float64{
		5.1, 4.9, 5.0, 5.2, 4.8, 1.1, 0.9, 1.0, 1.2, 0.8,
		1.0, 1.2, 0.7, 1.1, 0.9, 1.1, 0.8, 1.2, 1.0, 0.9,
	})
	contrast := mat.NewDense(1, 2, []float64{1, -1})

	tt, err := glm.NewTTest(data, design, contrast)
	require.NoError(t, err)

	graph := connectivity.NewGraph(2)
	graph[0][0] = 1.0
	graph[1][1] = 1.0
	return tt, enhance.New(graph, 0.1, 2.0, 1.0)
}

func TestRun(t *testing.T) {
	tt, enh := testPipeline(t)
	opts := Options{Permutations: 50, Seed: 42, Workers: 4}

	res, err := Run(context.Background(), tt, enh, nil, opts, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, res.NullPos, 50)
	require.Len(t, res.NullNeg, 50)
	require.Len(t, res.TValues, 2)

	// The observed effect at fixel 0 is far stronger than anything a
	// relabeling can produce, so its corrected p-value hits the floor.
	assert.Greater(t, res.TValues[0], 3.0)
	assert.Greater(t, res.CFEPos[0], 0.0)

	pvals := PValues(res.NullPos, res.CFEPos)
	for f, p := range pvals {
		assert.Greater(t, p, 0.0, "fixel %d", f)
		assert.LessOrEqual(t, p, 1.0, "fixel %d", f)
	}
	// Only the rare group-preserving relabelings can tie the observed
	// maximum, so the corrected p-value at fixel 0 stays near the floor.
	assert.Less(t, pvals[0], 0.25)
	assert.Greater(t, pvals[1], pvals[0])
}

func TestRunDeterministic(t *testing.T) {
	tt, enh := testPipeline(t)
	opts := Options{Permutations: 40, Seed: 7, Workers: 8}

	a, err := Run(context.Background(), tt, enh, nil, opts, zap.NewNop())
	require.NoError(t, err)
	b, err := Run(context.Background(), tt, enh, nil, opts, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, a.NullPos, b.NullPos)
	assert.Equal(t, a.NullNeg, b.NullNeg)
	assert.Equal(t, a.CFEPos, b.CFEPos)
	assert.Equal(t, a.TValues, b.TValues)

	// A different seed draws a different relabeling sequence.
	c, err := Run(context.Background(), tt, enh, nil, Options{Permutations: 40, Seed: 8, Workers: 8}, zap.NewNop())
	require.NoError(t, err)
	assert.NotEqual(t, a.NullPos, c.NullPos)
}

func TestRunRejectsZeroPermutations(t *testing.T) {
	tt, enh := testPipeline(t)
	_, err := Run(context.Background(), tt, enh, nil, Options{Permutations: 0, Seed: 1}, zap.NewNop())
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	tt, enh := testPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, tt, enh, nil, Options{Permutations: 1000, Seed: 1, Workers: 2}, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPValuesFloorAndTies(t *testing.T) {
	null := []float64{1, 2, 3, 4}

	t.Run("above all nulls", func(t *testing.T) {
		p := PValues(null, []float64{10})
		assert.Equal(t, 1.0/5.0, p[0])
	})
	t.Run("below all nulls", func(t *testing.T) {
		p := PValues(null, []float64{0})
		assert.Equal(t, 1.0, p[0])
	})
	t.Run("tie counts against the observation", func(t *testing.T) {
		p := PValues(null, []float64{3})
		assert.Equal(t, 3.0/5.0, p[0])
	})
	t.Run("floor is one over P plus one", func(t *testing.T) {
		big := make([]float64, 999)
		p := PValues(big, []float64{1})
		assert.Equal(t, 1.0/1000.0, p[0])
	})
}

func TestEmpiricalScaleApply(t *testing.T) {
	s := &EmpiricalScale{Values: []float64{2, 4, 1}}
	field := []float64{2, 2, 2}
	s.Apply(field)
	assert.Equal(t, []float64{1, 0.5, 2}, field)
}

func TestPrecomputeEmpirical(t *testing.T) {
	tt, enh := testPipeline(t)
	opts := Options{Seed: 42, Workers: 4}

	scale, err := PrecomputeEmpirical(context.Background(), tt, enh, 30, opts, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, scale.Values, 2)
	for f, v := range scale.Values {
		assert.Greater(t, v, 0.0, "fixel %d scale must be strictly positive", f)
	}

	again, err := PrecomputeEmpirical(context.Background(), tt, enh, 30, opts, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, scale.Values, again.Values)
}

func TestPrecomputeEmpiricalRejectsZero(t *testing.T) {
	tt, enh := testPipeline(t)
	_, err := PrecomputeEmpirical(context.Background(), tt, enh, 0, Options{Seed: 1}, zap.NewNop())
	assert.Error(t, err)
}

func TestRunWithEmpiricalScale(t *testing.T) {
	tt, enh := testPipeline(t)
	opts := Options{Permutations: 30, Seed: 42, Workers: 4}

	plain, err := Run(context.Background(), tt, enh, nil, opts, zap.NewNop())
	require.NoError(t, err)

	scale := &EmpiricalScale{Values: []float64{2, 2}}
	scaled, err := Run(context.Background(), tt, enh, scale, opts, zap.NewNop())
	require.NoError(t, err)

	// A uniform scale of 2 halves every enhanced value, observed and null
	// alike, leaving the p-values unchanged.
	assert.InDelta(t, plain.CFEPos[0]/2, scaled.CFEPos[0], 1e-12)
	assert.Equal(t,
		PValues(plain.NullPos, plain.CFEPos),
		PValues(scaled.NullPos, scaled.CFEPos))
}
