// Package config provides configuration loading and management for hnccorr.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hnccorr/pkg/movie"
	"hnccorr/pkg/seeder"
	"hnccorr/pkg/segmentation"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Movie ingestion parameters
	Movie struct {
		// Name identifies the experiment and names the memory-mapped file
		Name string `yaml:"name"`

		// ImageDir is the directory holding the zero-padded TIFF frames
		ImageDir string `yaml:"imageDir"`

		// NumImages is the number of frames expected in ImageDir
		NumImages int `yaml:"numImages"`

		// Memmap backs the movie by <ImageDir>/<Name>.npy instead of memory
		Memmap bool `yaml:"memmap"`
	} `yaml:"movie"`

	// Patch parameters
	Patch struct {
		// Size is the odd width of the window segmented around each seed
		Size int `yaml:"size"`
	} `yaml:"patch"`

	// Seeder parameters
	Seeder struct {
		NeighborhoodSize int     `yaml:"neighborhoodSize"`
		KeepFraction     float64 `yaml:"keepFraction"`
		Padding          int     `yaml:"padding"`
		GridSize         int     `yaml:"gridSize"`
		ExclusionRadius  int     `yaml:"exclusionRadius"`

		// Reduction is one of center-mean, center-median or pairwise-mean
		Reduction string `yaml:"reduction"`
	} `yaml:"seeder"`

	// Segmentation parameters
	Segmentation struct {
		// DecayAlpha is the decay rate of the embedding-distance weight
		DecayAlpha float64 `yaml:"decayAlpha"`

		// Threshold is the minimum weight for a pixel to join a cell
		Threshold float64 `yaml:"threshold"`

		// MinSize is the smallest accepted cell in pixels
		MinSize int `yaml:"minSize"`

		// MaxSegments stops the run after this many cells, 0 for no limit
		MaxSegments int `yaml:"maxSegments"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// ScoreMap is the image file the seed score map is written to, if set
		ScoreMap string `yaml:"scoreMap"`

		// FramesDir is the directory movie frames are exported to, if set
		FramesDir string `yaml:"framesDir"`

		// Overlay is the image file the detected cells are drawn to, if set
		Overlay string `yaml:"overlay"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Movie.Name = "movie"
	cfg.Movie.Memmap = false

	cfg.Patch.Size = 31

	defaults := seeder.DefaultConfig()
	cfg.Seeder.NeighborhoodSize = defaults.NeighborhoodSize
	cfg.Seeder.KeepFraction = defaults.KeepFraction
	cfg.Seeder.Padding = defaults.Padding
	cfg.Seeder.GridSize = defaults.GridSize
	cfg.Seeder.ExclusionRadius = defaults.ExclusionRadius
	cfg.Seeder.Reduction = string(defaults.Reduction)

	cfg.Segmentation.DecayAlpha = 1.0
	cfg.Segmentation.Threshold = 0.5
	cfg.Segmentation.MinSize = 20
	cfg.Segmentation.MaxSegments = 0

	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
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

// SaveConfig saves the configuration to a YAML file
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// SeederConfig converts the seeder section
func (c *Config) SeederConfig() seeder.Config {
	return seeder.Config{
		NeighborhoodSize: c.Seeder.NeighborhoodSize,
		KeepFraction:     c.Seeder.KeepFraction,
		Padding:          c.Seeder.Padding,
		GridSize:         c.Seeder.GridSize,
		ExclusionRadius:  c.Seeder.ExclusionRadius,
		Reduction:        seeder.Reduction(c.Seeder.Reduction),
	}
}

// SolverConfig converts the segmentation section into solver parameters
func (c *Config) SolverConfig() segmentation.SolverConfig {
	return segmentation.SolverConfig{
		Alpha:     c.Segmentation.DecayAlpha,
		Threshold: c.Segmentation.Threshold,
		MinSize:   c.Segmentation.MinSize,
	}
}

// DriverParams converts the patch and segmentation sections into driver parameters
func (c *Config) DriverParams() segmentation.Params {
	return segmentation.Params{
		PatchSize:   c.Patch.Size,
		MaxSegments: c.Segmentation.MaxSegments,
	}
}

// Validate checks the parameters that can be verified without a movie
func (c *Config) Validate() error {
	if c.Movie.NumImages < 0 {
		return fmt.Errorf("numImages %d should not be negative: %w", c.Movie.NumImages, movie.ErrInvalidConfiguration)
	}
	if c.Patch.Size < 1 || c.Patch.Size%2 == 0 {
		return fmt.Errorf("patch size %d should be a positive odd number: %w", c.Patch.Size, movie.ErrInvalidConfiguration)
	}
	if err := c.SeederConfig().Validate(); err != nil {
		return err
	}
	if _, err := segmentation.NewDecaySolver(c.SolverConfig()); err != nil {
		return err
	}
	if c.Segmentation.MaxSegments < 0 {
		return fmt.Errorf("maxSegments %d should not be negative: %w", c.Segmentation.MaxSegments, movie.ErrInvalidConfiguration)
	}
	return nil
}
