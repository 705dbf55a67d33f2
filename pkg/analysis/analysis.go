// Package analysis orchestrates the fixel statistics pipeline: fixel index
// construction, track-based connectivity, subject data assembly, the GLM
// fit, connectivity-based enhancement and permutation testing, and writes
// all outputs with provenance metadata.
package analysis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"fixelstats/pkg/config"
	"fixelstats/pkg/connectivity"
	"fixelstats/pkg/data"
	"fixelstats/pkg/enhance"
	"fixelstats/pkg/fixelio"
	"fixelstats/pkg/glm"
	"fixelstats/pkg/index"
	"fixelstats/pkg/numio"
	"fixelstats/pkg/permutation"
	"fixelstats/pkg/tracks"
)

// ErrDesignRows is returned when the design matrix row count does not match
// the subject count.
var ErrDesignRows = errors.New("number of subjects does not match number of rows in design matrix")

// imageExt is the extension of all fixel image outputs.
const imageExt = ".fxl"

// Params holds the input and output locations of one analysis run.
type Params struct {
	// SubjectList is a text file listing the per-subject fixel images, one
	// path per line, relative to the list's directory.
	SubjectList string

	// Mask is the fixel mask defining the fixels of interest.
	Mask string

	// Design and Contrast are plain numeric text matrices.
	Design   string
	Contrast string

	// Tracks is the streamline file used to derive fixel-fixel
	// connectivity.
	Tracks string

	// OutputPrefix prefixes every output filename.
	OutputPrefix string

	// Config supplies all numeric parameters. Nil means defaults.
	Config *config.Config
}

// Results exposes the run artifacts for reporting.
type Results struct {
	NumFixels   int
	NumSubjects int
	NumTracks   int

	TValues    []float64
	CFEPos     []float64
	CFENeg     []float64
	PValuesPos []float64
	PValuesNeg []float64
}

// Analysis runs the complete pipeline for one set of inputs.
type Analysis struct {
	params  *Params
	cfg     *config.Config
	logger  *zap.Logger
	results Results
}

// New creates an analysis instance with the provided parameters.
func New(params *Params, logger *zap.Logger) *Analysis {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Analysis{params: params, cfg: cfg, logger: logger}
}

// Results returns the artifacts of the last Run.
func (a *Analysis) Results() Results { return a.results }

// Run executes the pipeline. A fatal error aborts the run before any
// statistical output is persisted.
func (a *Analysis) Run(ctx context.Context) error {
	subjects, err := readSubjectList(a.params.SubjectList)
	if err != nil {
		return err
	}
	a.results.NumSubjects = len(subjects)

	design, err := numio.LoadMatrix(a.params.Design)
	if err != nil {
		return fmt.Errorf("failed to load design matrix: %w", err)
	}
	rows, regressors := design.Dims()
	if rows != len(subjects) {
		return fmt.Errorf("%w: %d subjects, %d rows", ErrDesignRows, len(subjects), rows)
	}
	contrast, err := numio.LoadMatrix(a.params.Contrast)
	if err != nil {
		return fmt.Errorf("failed to load contrast matrix: %w", err)
	}
	contrast, err = glm.PadContrast(contrast, regressors)
	if err != nil {
		return err
	}

	mask, err := fixelio.Read(a.params.Mask)
	if err != nil {
		return fmt.Errorf("failed to load fixel mask: %w", err)
	}
	idx, err := index.Build(mask)
	if err != nil {
		return fmt.Errorf("failed to build fixel index: %w", err)
	}
	a.results.NumFixels = idx.NumFixels()
	a.logger.Info("fixel index built", zap.Int("fixels", idx.NumFixels()))

	conn, smooth, numTracks, err := a.buildConnectivity(ctx, idx)
	if err != nil {
		return err
	}
	a.results.NumTracks = numTracks

	a.logger.Info("loading input images", zap.Int("subjects", len(subjects)))
	dataMx, err := data.Assemble(idx, mask, smooth, subjects, a.cfg.Connectivity.AngleThreshold, a.logger)
	if err != nil {
		return err
	}
	if a.cfg.Output.ExportNpy {
		if err := numio.WriteNpy(a.params.OutputPrefix+"_data.npy", dataMx); err != nil {
			return err
		}
	}

	if err := a.writePopulationStatistics(dataMx, design, contrast, mask); err != nil {
		return err
	}

	ttest, err := glm.NewTTest(dataMx, design, contrast)
	if err != nil {
		return err
	}
	enhancer := enhance.New(conn,
		a.cfg.Enhancement.DH,
		a.cfg.Enhancement.ExtentExponent,
		a.cfg.Enhancement.HeightExponent)
	opts := permutation.Options{
		Permutations: a.cfg.Statistics.Permutations,
		Seed:         a.cfg.Statistics.Seed,
		SignFlip:     a.cfg.Statistics.SignFlip,
		Workers:      a.cfg.Processing.NumCores,
	}

	var empirical *permutation.EmpiricalScale
	if a.cfg.Statistics.Nonstationary {
		empirical, err = permutation.PrecomputeEmpirical(ctx, ttest, enhancer,
			a.cfg.Statistics.NonstationaryPermutations, opts, a.logger)
		if err != nil {
			return err
		}
		if err := a.writeImage(mask, "_cfe_empirical", empirical.Values); err != nil {
			return err
		}
	}

	if a.cfg.Output.StatsOnly {
		a.logger.Info("statistics-only mode, skipping permutation testing")
		return nil
	}

	res, err := permutation.Run(ctx, ttest, enhancer, empirical, opts, a.logger)
	if err != nil {
		return err
	}
	return a.writePermutationResults(res, mask)
}

// buildConnectivity runs the track pipeline and normalization.
func (a *Analysis) buildConnectivity(ctx context.Context, idx *index.Index) (conn, smooth connectivity.Graph, numTracks int, err error) {
	a.logger.Info("pre-computing fixel-fixel connectivity", zap.String("tracks", a.params.Tracks))
	reader, err := tracks.Open(a.params.Tracks)
	if err != nil {
		return nil, nil, 0, err
	}
	defer reader.Close()

	if reader.Count() < connectivity.RobustTrackCount {
		a.logger.Warn("track count below robustness threshold, connectivity may be under-sampled",
			zap.Int("tracks", reader.Count()),
			zap.Int("recommended", connectivity.RobustTrackCount))
	}

	raw, err := connectivity.Build(ctx, idx, reader, connectivity.BuildOptions{
		AngleThreshold: a.cfg.Connectivity.AngleThreshold,
		Workers:        a.cfg.Processing.NumCores,
		QueueSize:      a.cfg.Processing.QueueSize,
	}, a.logger)
	if err != nil {
		return nil, nil, 0, err
	}

	a.logger.Info("normalising and thresholding connectivity matrix")
	conn, smooth = connectivity.Normalize(raw, idx.Positions(), connectivity.NormalizeOptions{
		Threshold:  a.cfg.Connectivity.Threshold,
		SmoothFWHM: a.cfg.Connectivity.SmoothFWHM,
		Exponent:   a.cfg.Enhancement.ConnectivityExponent,
	})
	return conn, smooth, raw.NumTracks, nil
}

// writePopulationStatistics outputs beta coefficients, effect sizes and the
// residual standard deviation.
func (a *Analysis) writePopulationStatistics(dataMx, design, contrast *mat.Dense, mask *fixelio.Image) error {
	a.logger.Info("outputting beta coefficients, effect size and standard deviation")
	model, err := glm.NewModel(design)
	if err != nil {
		return err
	}

	betas := model.Betas(dataMx)
	_, cols := contrast.Dims()
	for i := 0; i < cols; i++ {
		if err := a.writeImage(mask, fmt.Sprintf("_beta%d", i), mat.Col(nil, i, betas)); err != nil {
			return err
		}
	}
	if err := a.writeImage(mask, "_abs_effect", mat.Col(nil, 0, model.AbsEffectSize(dataMx, contrast))); err != nil {
		return err
	}
	if err := a.writeImage(mask, "_std_effect", mat.Col(nil, 0, model.StdEffectSize(dataMx, contrast))); err != nil {
		return err
	}
	return a.writeImage(mask, "_std_dev", model.Stdev(dataMx))
}

// writePermutationResults persists both tails of the enhanced statistic,
// the null distributions and the corrected p-values.
func (a *Analysis) writePermutationResults(res *permutation.Result, mask *fixelio.Image) error {
	a.logger.Info("outputting final results")

	a.results.TValues = res.TValues
	a.results.CFEPos = res.CFEPos
	a.results.CFENeg = res.CFENeg
	a.results.PValuesPos = permutation.PValues(res.NullPos, res.CFEPos)
	a.results.PValuesNeg = permutation.PValues(res.NullNeg, res.CFENeg)

	prefix := a.params.OutputPrefix
	if err := numio.SaveVector(prefix+"_perm_dist_pos.txt", res.NullPos); err != nil {
		return err
	}
	if err := numio.SaveVector(prefix+"_perm_dist_neg.txt", res.NullNeg); err != nil {
		return err
	}
	if a.cfg.Output.ExportNpy {
		if err := numio.WriteVectorNpy(prefix+"_perm_dist_pos.npy", res.NullPos); err != nil {
			return err
		}
		if err := numio.WriteVectorNpy(prefix+"_perm_dist_neg.npy", res.NullNeg); err != nil {
			return err
		}
	}

	outputs := []struct {
		suffix string
		values []float64
	}{
		{"_cfe_pos", res.CFEPos},
		{"_cfe_neg", res.CFENeg},
		{"_tvalue", res.TValues},
		{"_pvalue_pos", a.results.PValuesPos},
		{"_pvalue_neg", a.results.PValuesNeg},
	}
	for _, out := range outputs {
		if err := a.writeImage(mask, out.suffix, out.values); err != nil {
			return err
		}
	}
	return nil
}

// writeImage writes a per-fixel value vector through the mask template,
// attaching the run parameters as provenance comments.
func (a *Analysis) writeImage(mask *fixelio.Image, suffix string, values []float64) error {
	path := a.params.OutputPrefix + suffix + imageExt
	if err := fixelio.WriteValues(path, mask, values, a.provenance()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// provenance renders the run parameters as header comments.
func (a *Analysis) provenance() []string {
	c := a.cfg
	return []string{
		fmt.Sprintf("num permutations = %d", c.Statistics.Permutations),
		fmt.Sprintf("dh = %g", c.Enhancement.DH),
		fmt.Sprintf("cfe_e = %g", c.Enhancement.ExtentExponent),
		fmt.Sprintf("cfe_h = %g", c.Enhancement.HeightExponent),
		fmt.Sprintf("cfe_c = %g", c.Enhancement.ConnectivityExponent),
		fmt.Sprintf("angular threshold = %g", c.Connectivity.AngleThreshold),
		fmt.Sprintf("connectivity threshold = %g", c.Connectivity.Threshold),
		fmt.Sprintf("smoothing FWHM = %g", c.Connectivity.SmoothFWHM),
		fmt.Sprintf("nonstationary adjustment = %t", c.Statistics.Nonstationary),
		fmt.Sprintf("seed = %d", c.Statistics.Seed),
	}
}

// readSubjectList reads the per-subject image paths, resolved relative to
// the list file's directory, and verifies each exists.
func readSubjectList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subject list: %w", err)
	}
	defer f.Close()

	dir := filepath.Dir(path)
	var subjects []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		full := line
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, line)
		}
		if _, err := os.Stat(full); err != nil {
			return nil, fmt.Errorf("input fixel image not found: %s", full)
		}
		subjects = append(subjects, full)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subject list: %w", err)
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("subject list %s is empty", path)
	}
	return subjects, nil
}
