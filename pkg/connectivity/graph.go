package connectivity

// Graph is a sparse fixel-to-fixel weight mapping: one map of neighbor id to
// weight per fixel. Dense storage is never used since the fixel count can
// reach the hundreds of thousands.
type Graph []map[int32]float64

// NewGraph allocates an empty graph over n fixels.
func NewGraph(n int) Graph {
	g := make(Graph, n)
	for i := range g {
		g[i] = make(map[int32]float64)
	}
	return g
}

// NumFixels returns the number of fixels the graph spans.
func (g Graph) NumFixels() int { return len(g) }

// NumEdges returns the total number of stored entries, self-entries included.
func (g Graph) NumEdges() int {
	n := 0
	for _, row := range g {
		n += len(row)
	}
	return n
}

// IsSymmetric reports whether every entry (f,g) has a matching entry (g,f)
// with a value within tol. A final connectivity graph must satisfy this;
// a violation indicates an implementation defect, not bad input.
func (g Graph) IsSymmetric(tol float64) bool {
	for f, row := range g {
		for n, v := range row {
			mirror, ok := g[n][int32(f)]
			if !ok || mirror-v > tol || v-mirror > tol {
				return false
			}
		}
	}
	return true
}
