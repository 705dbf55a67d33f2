package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"fixelstats/pkg/analysis"
	"fixelstats/pkg/config"
	"fixelstats/pkg/summary"
)

func main() {
	// Parse command line arguments
	subjectList := flag.String("input", "", "Text file listing the input fixel images, one per line")
	maskPath := flag.String("mask", "", "Fixel mask defining the fixels of interest")
	designPath := flag.String("design", "", "Design matrix (plain numeric text)")
	contrastPath := flag.String("contrast", "", "Contrast matrix (plain numeric text)")
	tracksPath := flag.String("tracks", "", "Track file used to determine fixel-fixel connectivity")
	outputPrefix := flag.String("output", "fixelstats", "Filename prefix for all output")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	numCores := flag.Int("cores", runtime.NumCPU(), "Number of CPU cores to use (default: all available)")
	numPerms := flag.Int("nperms", 0, "Number of permutations (overrides config)")
	seed := flag.Int64("seed", 0, "Random seed for permutation generation (overrides config)")
	statsOnly := flag.Bool("notest", false, "Skip permutation testing and only output population statistics")
	nonstationary := flag.Bool("nonstationary", false, "Adjust for non-stationarity")
	flag.Parse()

	if *subjectList == "" || *maskPath == "" || *designPath == "" || *contrastPath == "" || *tracksPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Processing.NumCores = *numCores
	if *numPerms > 0 {
		cfg.Statistics.Permutations = *numPerms
	}
	if *seed != 0 {
		cfg.Statistics.Seed = *seed
	}
	if *statsOnly {
		cfg.Output.StatsOnly = true
	}
	if *nonstationary {
		cfg.Statistics.Nonstationary = true
	}

	logger, err := newLogger(cfg.Output.Verbose)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("================================")
	fmt.Println("FIXEL-BASED CONNECTIVITY-ENHANCED STATISTICS")
	fmt.Println("================================")

	params := &analysis.Params{
		SubjectList:  *subjectList,
		Mask:         *maskPath,
		Design:       *designPath,
		Contrast:     *contrastPath,
		Tracks:       *tracksPath,
		OutputPrefix: *outputPrefix,
		Config:       cfg,
	}

	run := analysis.New(params, logger)
	startTime := time.Now()
	if err := run.Run(context.Background()); err != nil {
		logger.Fatal("analysis failed", zap.Error(err))
	}
	elapsed := time.Since(startTime)

	results := run.Results()
	fmt.Printf("\nAnalysis completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Fixels: %d, subjects: %d, tracks: %d\n\n",
		results.NumFixels, results.NumSubjects, results.NumTracks)

	if results.TValues != nil {
		summary.PrintHeader(os.Stdout)
		report(os.Stdout, "tvalue", results.TValues)
		report(os.Stdout, "cfe_pos", results.CFEPos)
		report(os.Stdout, "cfe_neg", results.CFENeg)
		report(os.Stdout, "pvalue_pos", results.PValuesPos)
		report(os.Stdout, "pvalue_neg", results.PValuesNeg)
	}
	fmt.Printf("\nOutput written with prefix: %s\n", *outputPrefix)
}

// report prints one descriptive statistics row for a result field.
func report(w *os.File, label string, values []float64) {
	s := summary.New(false)
	s.AddAll(values)
	s.Print(w, label)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
