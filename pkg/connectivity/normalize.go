package connectivity

import (
	"fmt"
	"math"

	"fixelstats/internal/models"
)

// smoothingRowTolerance bounds the acceptable drift of a renormalized
// smoothing row from unit sum. A larger drift indicates a defect.
const smoothingRowTolerance = 1e-6

// NormalizeOptions configures the conversion from raw visitation counts to
// the final connectivity and smoothing-weight graphs.
type NormalizeOptions struct {
	// Threshold is the minimum connectivity fraction for an entry to be
	// retained; entries below it are discarded.
	Threshold float64

	// SmoothFWHM is the full-width-half-maximum, in mm, of the Gaussian
	// smoothing kernel applied along the connectivity graph. Zero disables
	// smoothing: the smoothing graph then holds only unit self-entries.
	SmoothFWHM float64

	// Exponent is the connectivity exponent C: every surviving connectivity
	// value is raised to it before use by the enhancement engine.
	Exponent float64
}

// fwhmToStdev converts a Gaussian FWHM to the standard deviation.
const fwhmToStdev = 2.3548

// Normalize converts raw symmetrized counts into the final connectivity
// graph and the smoothing-weight graph.
//
// Each pair's count is normalized by the visitation density of its two
// endpoints (the mean of the two fractions), which keeps the final graph
// exactly symmetric even when the endpoints were visited unequally often.
// Entries below the threshold are discarded; survivors are exponentiated by
// C. Smoothing weights additionally attenuate by a Gaussian of the
// inter-fixel distance, then each row is renormalized to sum to 1. Both
// graphs carry a self-entry for every fixel.
func Normalize(raw *Raw, positions []models.Point, opts NormalizeOptions) (conn, smooth Graph) {
	n := raw.Counts.NumFixels()
	conn = NewGraph(n)
	smooth = NewGraph(n)

	stdev := opts.SmoothFWHM / fwhmToStdev
	doSmoothing := stdev > 0.0
	gaussianConst1 := 1.0
	gaussianConst2 := 2.0 * stdev * stdev
	if doSmoothing {
		gaussianConst1 = 1.0 / (stdev * math.Sqrt(2.0*math.Pi))
	}

	for f, row := range raw.Counts {
		for neighbor, count := range row {
			g := int(neighbor)
			if g <= f {
				continue // each unordered pair handled once
			}
			fraction := 0.5 * (count/float64(raw.Density[f]) + count/float64(raw.Density[g]))
			if fraction < opts.Threshold {
				continue
			}
			shaped := math.Pow(fraction, opts.Exponent)
			conn[f][neighbor] = shaped
			conn[g][int32(f)] = shaped
			if doSmoothing {
				distance := positions[f].Distance(positions[g])
				weight := fraction * gaussianConst1 * math.Exp(-distance*distance/gaussianConst2)
				if weight > opts.Threshold {
					smooth[f][neighbor] = weight
					smooth[g][int32(f)] = weight
				}
			}
		}
	}

	// Every fixel is fully connected to itself.
	for f := 0; f < n; f++ {
		conn[f][int32(f)] = 1.0
		smooth[f][int32(f)] = gaussianConst1
	}

	normalizeRows(smooth)
	return conn, smooth
}

// normalizeRows rescales each smoothing row to unit sum and verifies the
// result. A row that fails to renormalize indicates an implementation
// defect, never user error.
func normalizeRows(smooth Graph) {
	for f, row := range smooth {
		sum := 0.0
		for _, w := range row {
			sum += w
		}
		for neighbor, w := range row {
			row[neighbor] = w / sum
		}
		check := 0.0
		for _, w := range row {
			check += w
		}
		if math.Abs(check-1.0) > smoothingRowTolerance {
			panic(fmt.Sprintf("smoothing weights for fixel %d sum to %v after renormalization", f, check))
		}
	}
}
