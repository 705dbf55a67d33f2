// Package connectivity builds the fixel-fixel connectivity graph from a
// large set of traced fiber paths, and derives from it the normalized
// connectivity and smoothing-weight graphs used by the statistics pipeline.
package connectivity

import (
	"context"
	"errors"
	"io"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fixelstats/internal/models"
	"fixelstats/pkg/index"
)

// ErrNoTracks is returned when the track source yields no streamlines:
// no connectivity can be computed from an empty set of paths.
var ErrNoTracks = errors.New("no tracks found in input file")

// RobustTrackCount is the streamline count below which the connectivity
// graph is considered under-sampled. Callers holding the declared track
// count should warn before running the pipeline.
const RobustTrackCount = 1_000_000

// TrackSource supplies streamlines in order. Next returns io.EOF when the
// source is exhausted. tracks.Reader satisfies this interface.
type TrackSource interface {
	Next() (models.Streamline, error)
}

// BuildOptions configures the connectivity builder.
type BuildOptions struct {
	// AngleThreshold is the maximum angle, in degrees, between a path
	// tangent and a fixel direction for the sample to be assigned.
	AngleThreshold float64

	// Workers is the parallelism of the mapping and assignment stages.
	// Zero means runtime.NumCPU().
	Workers int

	// QueueSize bounds the channels between pipeline stages, providing
	// backpressure against a fast producer. Zero means 4 * Workers.
	QueueSize int
}

// Raw holds the unnormalized output of the builder: symmetrized pairwise
// visitation counts and the per-fixel total visitation density.
type Raw struct {
	// Counts maps each fixel to its co-visited neighbors. After Build
	// returns the matrix is symmetric.
	Counts Graph

	// Density is the total number of accepted path visitations per fixel,
	// used as the normalization denominator.
	Density []uint32

	// NumTracks is the number of streamlines processed.
	NumTracks int
}

type builder struct {
	idx         *index.Index
	cosAngle    float64
	counts      Graph
	locks       []sync.Mutex
	density     []uint32
	trackTotal  atomic.Int64
	assignTotal atomic.Int64
}

// Build runs the three-stage concurrent pipeline over the track source:
// a sequential producer, a parallel stateless mapping stage converting each
// streamline to (voxel, tangent) samples, and a parallel assignment stage
// accumulating pairwise counts under per-fixel locks. Accumulation is a
// commutative sum, so the result is independent of scheduling order.
func Build(ctx context.Context, idx *index.Index, src TrackSource, opts BuildOptions, logger *zap.Logger) (*Raw, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 4 * workers
	}

	n := idx.NumFixels()
	b := &builder{
		idx:      idx,
		cosAngle: math.Cos(opts.AngleThreshold * math.Pi / 180.0),
		counts:   NewGraph(n),
		locks:    make([]sync.Mutex, n),
		density:  make([]uint32, n),
	}

	g, ctx := errgroup.WithContext(ctx)
	trackCh := make(chan models.Streamline, queue)
	sampleCh := make(chan []models.TangentSample, queue)

	// Producer: sequential read of the track source.
	g.Go(func() error {
		defer close(trackCh)
		for {
			track, err := src.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			b.trackTotal.Add(1)
			select {
			case trackCh <- track:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// Mapping stage: pure streamline-to-samples conversion, any order.
	var mappers sync.WaitGroup
	for i := 0; i < workers; i++ {
		mappers.Add(1)
		g.Go(func() error {
			defer mappers.Done()
			for track := range trackCh {
				samples := b.mapTrack(track)
				if len(samples) == 0 {
					continue
				}
				select {
				case sampleCh <- samples:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		mappers.Wait()
		close(sampleCh)
		return nil
	})

	// Assignment stage: fixel lookup and pairwise accumulation.
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for samples := range sampleCh {
				b.assign(samples)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	numTracks := int(b.trackTotal.Load())
	if numTracks == 0 {
		return nil, ErrNoTracks
	}
	logger.Info("fixel-fixel connectivity computed",
		zap.Int("tracks", numTracks),
		zap.Int64("assigned_samples", b.assignTotal.Load()))

	// Symmetrize sequentially, after all workers have joined. Counts were
	// accumulated for one orientation of each pair only.
	for f, row := range b.counts {
		for neighbor, v := range row {
			b.counts[neighbor][int32(f)] = v
		}
	}

	return &Raw{Counts: b.counts, Density: b.density, NumTracks: numTracks}, nil
}

// mapTrack converts a streamline into ordered (voxel, tangent) samples.
// Consecutive samples falling in the same voxel are collapsed, keeping the
// first tangent. Points outside the image bounds are skipped.
func (b *builder) mapTrack(track models.Streamline) []models.TangentSample {
	samples := make([]models.TangentSample, 0, len(track))
	var last models.Voxel
	for i, p := range track {
		vox, ok := b.idx.VoxelOf(p)
		if !ok {
			continue
		}
		if len(samples) > 0 && vox == last {
			continue
		}
		samples = append(samples, models.TangentSample{Voxel: vox, Tangent: tangentAt(track, i)})
		last = vox
	}
	return samples
}

// tangentAt estimates the local path tangent by central differences.
func tangentAt(track models.Streamline, i int) models.Point {
	lo, hi := i-1, i+1
	if lo < 0 {
		lo = 0
	}
	if hi >= len(track) {
		hi = len(track) - 1
	}
	if lo == hi {
		return models.Point{}
	}
	return track[hi].Sub(track[lo]).Normalized()
}

// assign resolves each sample to the best-aligned fixel in its voxel and
// accumulates pairwise counts over the resulting visit list.
func (b *builder) assign(samples []models.TangentSample) {
	ids := make([]int32, 0, len(samples))
	for _, s := range samples {
		start, count, ok := b.idx.Range(s.Voxel)
		if !ok {
			continue
		}
		best := int32(-1)
		largest := 0.0
		dirs := b.idx.Directions()
		for f := start; f < start+count; f++ {
			dp := math.Abs(s.Tangent.Dot(dirs[f]))
			if dp > largest {
				largest = dp
				best = f
			}
		}
		if best >= 0 && largest > b.cosAngle {
			ids = append(ids, best)
			atomic.AddUint32(&b.density[best], 1)
		}
	}
	b.assignTotal.Add(int64(len(ids)))

	// One orientation per unordered pair: the count lands in the row of the
	// smaller id, guarded by that fixel's lock. No global lock.
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, c := ids[i], ids[j]
			if a == c {
				continue
			}
			if a > c {
				a, c = c, a
			}
			b.locks[a].Lock()
			b.counts[a][c]++
			b.locks[a].Unlock()
		}
	}
}
