// Package data assembles the dense subject data matrix: each subject's
// sparse per-fixel values are matched onto the common fixel index by
// direction correspondence, then smoothed along the connectivity graph.
package data

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"fixelstats/internal/models"
	"fixelstats/pkg/connectivity"
	"fixelstats/pkg/fixelio"
	"fixelstats/pkg/index"
)

// Assemble loads every subject image, matches its fixels to the mask index
// and applies the smoothing weights, producing the fixels x subjects matrix
// consumed by the GLM. The matrix is built once and read-only afterward.
func Assemble(idx *index.Index, mask *fixelio.Image, smooth connectivity.Graph, paths []string, angleDeg float64, logger *zap.Logger) (*mat.Dense, error) {
	n := idx.NumFixels()
	out := mat.NewDense(n, len(paths), nil)
	cosAngle := math.Cos(angleDeg * math.Pi / 180.0)

	for subject, path := range paths {
		img, err := fixelio.Read(path)
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", subject, err)
		}
		if err := fixelio.CheckDimensions(img, mask); err != nil {
			return nil, fmt.Errorf("subject %d (%s): %w", subject, path, err)
		}

		raw := matchSubject(idx, mask, img, cosAngle)

		// Smooth along the connectivity graph; each row of weights sums
		// to 1, so this is a convex combination of raw values.
		for f := 0; f < n; f++ {
			value := 0.0
			for neighbor, weight := range smooth[f] {
				value += raw[neighbor] * weight
			}
			out.Set(f, subject, value)
		}
		logger.Debug("subject image loaded", zap.String("path", path), zap.Int("subject", subject))
	}
	return out, nil
}

// matchSubject maps a subject's sparse fixels onto the index by picking, per
// mask fixel, the subject fixel in the same voxel with the largest absolute
// direction dot product. Matches below the angular threshold leave zero.
func matchSubject(idx *index.Index, mask *fixelio.Image, img *fixelio.Image, cosAngle float64) []float64 {
	raw := make([]float64, idx.NumFixels())
	dirs := idx.Directions()

	subjectVoxels := make(map[models.Voxel]*fixelio.Voxel, len(img.Voxels))
	for i := range img.Voxels {
		v := &img.Voxels[i]
		subjectVoxels[models.Voxel{I: v.I, J: v.J, K: v.K}] = v
	}

	for _, mv := range mask.Voxels {
		vox := models.Voxel{I: mv.I, J: mv.J, K: mv.K}
		start, count, ok := idx.Range(vox)
		if !ok {
			continue
		}
		sv, ok := subjectVoxels[vox]
		if !ok {
			continue
		}
		for f := start; f < start+count; f++ {
			largest := 0.0
			closest := -1
			for s, sf := range sv.Fixels {
				dp := math.Abs(dirs[f].Dot(sf.Dir.Normalized()))
				if dp > largest {
					largest = dp
					closest = s
				}
			}
			if closest >= 0 && largest > cosAngle {
				raw[f] = sv.Fixels[closest].Value
			}
		}
	}
	return raw
}
