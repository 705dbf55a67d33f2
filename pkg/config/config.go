// Package config provides configuration loading and management for
// fixelstats. It handles loading configuration from YAML files and provides
// default values for every analysis parameter.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Statistics parameters control the permutation testing protocol.
	Statistics struct {
		// Permutations is the size of the null distribution.
		Permutations int `yaml:"permutations"`

		// Seed makes permutation generation reproducible.
		Seed int64 `yaml:"seed"`

		// SignFlip selects sign-flip relabeling instead of label
		// permutation, for one-sample designs.
		SignFlip bool `yaml:"signFlip"`

		// Nonstationary enables the empirical nonstationarity correction.
		Nonstationary bool `yaml:"nonstationary"`

		// NonstationaryPermutations is the auxiliary permutation count used
		// to precompute the empirical enhancement scale.
		NonstationaryPermutations int `yaml:"nonstationaryPermutations"`
	} `yaml:"statistics"`

	// Enhancement parameters control the connectivity-based enhancement.
	Enhancement struct {
		// DH is the height increment of the enhancement integration.
		DH float64 `yaml:"dh"`

		// ExtentExponent is the extent exponent E.
		ExtentExponent float64 `yaml:"extentExponent"`

		// HeightExponent is the height exponent H.
		HeightExponent float64 `yaml:"heightExponent"`

		// ConnectivityExponent is the connectivity exponent C applied to
		// normalized connectivity values.
		ConnectivityExponent float64 `yaml:"connectivityExponent"`
	} `yaml:"enhancement"`

	// Connectivity parameters control graph construction and smoothing.
	Connectivity struct {
		// AngleThreshold is the maximum angle in degrees for fixel
		// correspondence, both for tracks and between subjects.
		AngleThreshold float64 `yaml:"angleThreshold"`

		// Threshold is the minimum connectivity fraction retained.
		Threshold float64 `yaml:"threshold"`

		// SmoothFWHM is the Gaussian smoothing kernel FWHM in mm; zero
		// disables smoothing.
		SmoothFWHM float64 `yaml:"smoothFwhm"`
	} `yaml:"connectivity"`

	// Processing parameters control parallelism.
	Processing struct {
		// NumCores specifies how many CPU cores to use.
		NumCores int `yaml:"numCores"`

		// QueueSize bounds the channels of the connectivity pipeline.
		QueueSize int `yaml:"queueSize"`
	} `yaml:"processing"`

	// Output parameters.
	Output struct {
		// StatsOnly skips permutation testing and outputs population
		// statistics only.
		StatsOnly bool `yaml:"statsOnly"`

		// ExportNpy additionally writes the data matrix and null
		// distributions as .npy files.
		ExportNpy bool `yaml:"exportNpy"`

		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Statistics.Permutations = 5000
	cfg.Statistics.Seed = 1
	cfg.Statistics.NonstationaryPermutations = 5000

	cfg.Enhancement.DH = 0.1
	cfg.Enhancement.ExtentExponent = 2.0
	cfg.Enhancement.HeightExponent = 1.0
	cfg.Enhancement.ConnectivityExponent = 0.1

	cfg.Connectivity.AngleThreshold = 30.0
	cfg.Connectivity.Threshold = 0.01
	cfg.Connectivity.SmoothFWHM = 10.0

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.QueueSize = 128

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
