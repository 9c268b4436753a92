package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"hnccorr/internal/logging"
	"hnccorr/pkg/config"
	"hnccorr/pkg/movie"
	"hnccorr/pkg/seeder"
	"hnccorr/pkg/segmentation"
	"hnccorr/pkg/visualization"
)

func main() {
	_ = godotenv.Load()

	defaultConfig := os.Getenv("HNCCORR_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "hnccorr.yaml"
	}

	// Parse command line arguments
	configPath := flag.String("config", defaultConfig, "YAML configuration file (env HNCCORR_CONFIG)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	inputDir := flag.String("input", "", "Directory containing the TIFF frames (overrides movie.imageDir)")
	name := flag.String("name", "", "Movie name (overrides movie.name)")
	numImages := flag.Int("num-images", 0, "Number of frames in the input directory (overrides movie.numImages)")
	memmap := flag.Bool("memmap", false, "Back the movie by a memory-mapped <name>.npy file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *inputDir != "" {
		cfg.Movie.ImageDir = *inputDir
	}
	if *name != "" {
		cfg.Movie.Name = *name
	}
	if *numImages > 0 {
		cfg.Movie.NumImages = *numImages
	}
	if *memmap {
		cfg.Movie.Memmap = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	if cfg.Movie.ImageDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(cfg.Output.Verbose)
	if err := run(cfg, logger); err != nil {
		logger.Error("candidate detection failed", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

// run loads the movie, segments it and writes the requested images. The movie
// is closed before run returns.
func run(cfg *config.Config, logger *slog.Logger) error {
	fmt.Println("================================")
	fmt.Println("CANDIDATE CELL DETECTION FOR CALCIUM IMAGING MOVIES")
	fmt.Println("================================")

	// Step 1: Load the movie
	fmt.Println("Step 1: Loading movie frames...")
	numFrames := cfg.Movie.NumImages
	if numFrames == 0 {
		images, err := movie.ListImages(cfg.Movie.ImageDir)
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}
		numFrames = len(images)
	}
	m, err := movie.LoadTIFFImages(cfg.Movie.Name, cfg.Movie.ImageDir, numFrames, cfg.Movie.Memmap)
	if err != nil {
		return fmt.Errorf("failed to load movie: %w", err)
	}
	defer m.Close()
	fmt.Printf("Loaded %q with shape %v\n", m.Name, m.DataSize())

	// Build the pipeline
	s, err := seeder.New(cfg.SeederConfig())
	if err != nil {
		return fmt.Errorf("failed to create seeder: %w", err)
	}
	solver, err := segmentation.NewDecaySolver(cfg.SolverConfig())
	if err != nil {
		return fmt.Errorf("failed to create solver: %w", err)
	}
	driver, err := segmentation.NewDriver(m, s, solver, cfg.DriverParams(), logger)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}

	// Step 2: Segment
	fmt.Println("Step 2: Selecting seeds and segmenting candidate cells...")
	startTime := time.Now()
	segments, err := driver.Run()
	if err != nil {
		return fmt.Errorf("segmentation failed: %w", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nSegmentation completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Candidate seeds retained: %d\n", len(s.Candidates()))
	fmt.Printf("Cells detected: %d\n", len(segments))
	for i, segment := range segments {
		fmt.Printf("  cell %3d  seed %v  %d pixels\n", i+1, segment.Seed, len(segment.Pixels))
	}

	// Optional images
	if cfg.Output.ScoreMap == "" && cfg.Output.FramesDir == "" && cfg.Output.Overlay == "" {
		return nil
	}
	viewer, err := visualization.NewViewer(m)
	if err != nil {
		log.Printf("Warning: skipping images: %v", err)
		return nil
	}
	if cfg.Output.ScoreMap != "" {
		if err := viewer.Save(viewer.ScoreMap(s.Candidates()), cfg.Output.ScoreMap, 4); err != nil {
			log.Printf("Warning: Failed to save score map: %v", err)
		} else {
			fmt.Printf("Score map saved to: %s\n", cfg.Output.ScoreMap)
		}
	}
	if cfg.Output.Overlay != "" {
		if err := viewer.Save(viewer.Overlay(segments), cfg.Output.Overlay, 4); err != nil {
			log.Printf("Warning: Failed to save overlay: %v", err)
		} else {
			fmt.Printf("Cell overlay saved to: %s\n", cfg.Output.Overlay)
		}
	}
	if cfg.Output.FramesDir != "" {
		if err := viewer.SaveFrameSequence(cfg.Output.FramesDir); err != nil {
			log.Printf("Warning: Failed to save frames: %v", err)
		} else {
			fmt.Printf("Frames saved to: %s\n", cfg.Output.FramesDir)
		}
	}
	return nil
}
