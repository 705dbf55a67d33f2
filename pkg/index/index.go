// Package index builds the fixel index: the contiguous enumeration of all
// fixels in the analysis mask, their positions and directions, and the
// per-voxel id ranges used to resolve a spatial location to its fixels.
package index

import (
	"fmt"
	"math"

	"fixelstats/internal/models"
	"fixelstats/pkg/fixelio"
)

// idRange locates a voxel's fixels within the contiguous id space.
type idRange struct {
	start int32
	count int32
}

// Index enumerates the fixels of interest defined by the analysis mask.
// Fixel ids are assigned in voxel scan order and are contiguous in [0, N);
// the per-voxel ranges partition the id space exactly. An Index is immutable
// once built.
type Index struct {
	dim        [3]int
	voxelSize  [3]float64
	positions  []models.Point
	directions []models.Point
	ranges     map[models.Voxel]idRange
}

// Build constructs the index from a mask image. Directions are normalized;
// each fixel's position is the scanner-space centre of its voxel.
func Build(mask *fixelio.Image) (*Index, error) {
	idx := &Index{
		dim:       mask.Header.Dim,
		voxelSize: mask.Header.VoxelSize,
		ranges:    make(map[models.Voxel]idRange, len(mask.Voxels)),
	}
	for d := 0; d < 3; d++ {
		if idx.voxelSize[d] <= 0 {
			return nil, fmt.Errorf("mask voxel size must be positive, got %v", idx.voxelSize)
		}
	}

	for _, v := range mask.Voxels {
		if len(v.Fixels) == 0 {
			continue
		}
		vox := models.Voxel{I: v.I, J: v.J, K: v.K}
		if _, dup := idx.ranges[vox]; dup {
			return nil, fmt.Errorf("mask voxel (%d,%d,%d) appears more than once", v.I, v.J, v.K)
		}
		idx.ranges[vox] = idRange{start: int32(len(idx.directions)), count: int32(len(v.Fixels))}
		pos := idx.voxelCentre(vox)
		for _, fx := range v.Fixels {
			idx.positions = append(idx.positions, pos)
			idx.directions = append(idx.directions, fx.Dir.Normalized())
		}
	}
	if len(idx.directions) == 0 {
		return nil, fmt.Errorf("mask contains no fixels")
	}
	return idx, nil
}

// NumFixels returns the number of indexed fixels.
func (x *Index) NumFixels() int { return len(x.directions) }

// Positions returns the scanner-space position of every fixel, indexed by id.
func (x *Index) Positions() []models.Point { return x.positions }

// Directions returns the unit direction of every fixel, indexed by id.
func (x *Index) Directions() []models.Point { return x.directions }

// Range resolves a voxel to its contiguous fixel id range. ok is false for
// voxels outside the mask.
func (x *Index) Range(v models.Voxel) (start, count int32, ok bool) {
	r, ok := x.ranges[v]
	return r.start, r.count, ok
}

// VoxelOf maps a scanner-space point to its grid voxel. ok is false when the
// point lies outside the image bounds.
func (x *Index) VoxelOf(p models.Point) (models.Voxel, bool) {
	v := models.Voxel{
		I: int(math.Floor(p[0] / x.voxelSize[0])),
		J: int(math.Floor(p[1] / x.voxelSize[1])),
		K: int(math.Floor(p[2] / x.voxelSize[2])),
	}
	if v.I < 0 || v.I >= x.dim[0] || v.J < 0 || v.J >= x.dim[1] || v.K < 0 || v.K >= x.dim[2] {
		return models.Voxel{}, false
	}
	return v, true
}

func (x *Index) voxelCentre(v models.Voxel) models.Point {
	return models.Point{
		(float64(v.I) + 0.5) * x.voxelSize[0],
		(float64(v.J) + 0.5) * x.voxelSize[1],
		(float64(v.K) + 0.5) * x.voxelSize[2],
	}
}
