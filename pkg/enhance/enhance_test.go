package enhance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"fixelstats/pkg/connectivity"
	"fixelstats/pkg/glm"
)

// pairGraph is three fixels: 0 and 1 connected with weight 0.5, fixel 2
// isolated. All fixels carry unit self-entries.
func pairGraph() connectivity.Graph {
	g := connectivity.NewGraph(3)
	for f := 0; f < 3; f++ {
		g[f][int32(f)] = 1.0
	}
	g[0][1] = 0.5
	g[1][0] = 0.5
	return g
}

func TestEnhanceHandComputed(t *testing.T) {
	// dh=1, E=1, H=1 over stats [2 2 0]. At both heights 1 and 2 the
	// extent of fixels 0 and 1 is 1 + 0.5 = 1.5, so each accumulates
	// 1.5*1*1 + 1.5*2*1 = 4.5.
	enh := New(pairGraph(), 1.0, 1.0, 1.0)
	got := enh.Enhance([]float64{2, 2, 0})
	assert.InDelta(t, 4.5, got[0], 1e-12)
	assert.InDelta(t, 4.5, got[1], 1e-12)
	assert.Equal(t, 0.0, got[2])
}

func TestEnhanceExtentExponent(t *testing.T) {
	// With E=2 the per-height contribution squares the extent:
	// 1.5^2*1 + 1.5^2*2 = 6.75 for the connected pair.
	enh := New(pairGraph(), 1.0, 2.0, 1.0)
	got := enh.Enhance([]float64{2, 2, 0})
	assert.InDelta(t, 6.75, got[0], 1e-12)

	// The isolated fixel at the same height only ever has extent 1.
	got = enh.Enhance([]float64{0, 0, 2})
	assert.InDelta(t, 3.0, got[2], 1e-12)
}

func TestEnhanceSupportBoostsConnected(t *testing.T) {
	// Equal statistic values, but fixel 0 has a supra-threshold neighbor
	// and fixel 2 does not. Enhancement must strictly favor fixel 0.
	enh := New(pairGraph(), 0.1, 2.0, 1.0)
	got := enh.Enhance([]float64{3, 3, 3})
	assert.Greater(t, got[0], got[2])
	assert.InDelta(t, got[0], got[1], 1e-12)
}

func TestEnhanceNonPositiveField(t *testing.T) {
	enh := New(pairGraph(), 0.1, 2.0, 1.0)
	got := enh.Enhance([]float64{-1, 0, -2.5})
	assert.Equal(t, []float64{0, 0, 0}, got)
}

func TestEnhanceBothTails(t *testing.T) {
	enh := New(pairGraph(), 0.1, 2.0, 1.0)
	stats := []float64{2.5, -2.5, 0}
	pos, neg := enh.EnhanceBothTails(stats)

	assert.Greater(t, pos[0], 0.0)
	assert.Equal(t, 0.0, pos[1])
	assert.Equal(t, 0.0, neg[0])
	assert.Greater(t, neg[1], 0.0)

	// Mirrored fields swap tails exactly.
	mirrorPos, mirrorNeg := enh.EnhanceBothTails([]float64{-2.5, 2.5, 0})
	assert.Equal(t, pos[0], mirrorNeg[0])
	assert.Equal(t, neg[1], mirrorPos[1])
}

func TestEnhanceTStatisticField(t *testing.T) {
	// End to end over a fitted model: a two-group cohort with a real group
	// difference at fixel 0 and pure noise at fixel 1. The enhanced
	// positive tail at the affected fixel must strictly exceed the
	// unaffected, unconnected fixel.
	design := mat.NewDense(10, 2, nil)
	for s := 0; s < 5; s++ {
		design.Set(s, 0, 1)
	}
	for s := 5; s < 10; s++ {
		design.Set(s, 1, 1)
	}
	data := mat.NewDense(2, 10, []float64{
		5.1, 4.9, 5.0, 5.2, 4.8, 1.1, 0.9, 1.0, 1.2, 0.8,
		1.0, 1.1, 0.9, 1.0, 1.0, 1.0, 0.9, 1.1, 1.0, 1.0,
	})
	contrast := mat.NewDense(1, 2, []float64{1, -1})

	tt, err := glm.NewTTest(data, design, contrast)
	require.NoError(t, err)
	stats, err := tt.Compute(glm.Identity(10))
	require.NoError(t, err)
	require.Greater(t, stats[0], stats[1])

	graph := connectivity.NewGraph(2)
	graph[0][0] = 1.0
	graph[1][1] = 1.0
	pos, neg := New(graph, 0.1, 2.0, 1.0).EnhanceBothTails(stats)
	assert.Greater(t, pos[0], pos[1])
	assert.Equal(t, 0.0, neg[0])
}
