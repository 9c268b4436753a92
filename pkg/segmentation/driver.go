// Package segmentation runs the seed, patch, embedding, solve and exclude loop
// that turns ranked seed pixels into detected cells.
package segmentation

import (
	"fmt"
	"log/slog"

	"github.com/mdobak/go-xerrors"

	"hnccorr/pkg/embedding"
	"hnccorr/pkg/movie"
)

// Seeder proposes seed pixels. It is satisfied by *seeder.LocalCorrelationSeeder.
type Seeder interface {
	SelectSeeds(m *movie.Movie)
	Next() (movie.Coordinate, bool)
	ExcludePixels(pixels []movie.Coordinate)
}

// Segment is a detected cell.
type Segment struct {
	// Seed is the pixel the cell was grown from.
	Seed movie.Coordinate

	// Pixels are the movie coordinates assigned to the cell.
	Pixels []movie.Coordinate
}

// Params holds the driver parameters.
type Params struct {
	// PatchSize is the odd width of the window segmented around each seed.
	PatchSize int

	// MaxSegments stops the run after this many cells. Zero means no limit.
	MaxSegments int
}

// Driver owns the movie, seeder and solver for one segmentation run.
type Driver struct {
	movie  *movie.Movie
	seeder Seeder
	solver Solver
	params Params
	logger *slog.Logger
}

// NewDriver checks params against the movie and creates a driver.
func NewDriver(m *movie.Movie, s Seeder, solver Solver, params Params, logger *slog.Logger) (*Driver, error) {
	if params.PatchSize < 1 || params.PatchSize%2 == 0 {
		return nil, fmt.Errorf("patch size %d should be a positive odd number: %w", params.PatchSize, movie.ErrInvalidConfiguration)
	}
	for i, extent := range m.PixelShape() {
		if params.PatchSize > extent {
			return nil, fmt.Errorf("patch size %d exceeds movie extent %d on axis %d: %w",
				params.PatchSize, extent, i, movie.ErrInvalidConfiguration)
		}
	}
	if params.MaxSegments < 0 {
		return nil, fmt.Errorf("max segments %d should not be negative: %w", params.MaxSegments, movie.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		movie:  m,
		seeder: s,
		solver: solver,
		params: params,
		logger: logger,
	}, nil
}

// Run ranks the movie's seeds and segments a patch around each one until the
// seeder is exhausted or MaxSegments cells were found. The seed and the pixels
// of every detected cell are excluded from later seeds, so each cell is
// reported once.
func (d *Driver) Run() ([]Segment, error) {
	d.logger.Info("selecting seeds",
		slog.String("movie", d.movie.Name),
		slog.Any("dataSize", d.movie.DataSize()))
	d.seeder.SelectSeeds(d.movie)

	var (
		segments []Segment
		visited  int
	)
	for !d.limitReached(len(segments)) {
		seed, ok := d.seeder.Next()
		if !ok {
			break
		}
		visited++

		pixels, err := d.segmentSeed(seed)
		if err != nil {
			err := xerrors.New(err)
			d.logger.Error("failed to segment seed",
				slog.String("seed", seed.String()),
				slog.Any("error", err))
			return segments, err
		}
		if len(pixels) == 0 {
			d.logger.Debug("no cell found", slog.String("seed", seed.String()))
			continue
		}

		d.seeder.ExcludePixels(append([]movie.Coordinate{seed}, pixels...))
		segments = append(segments, Segment{Seed: seed, Pixels: pixels})
		d.logger.Debug("cell found",
			slog.String("seed", seed.String()),
			slog.Int("pixels", len(pixels)))
	}

	d.logger.Info("segmentation finished",
		slog.Int("seedsVisited", visited),
		slog.Int("cells", len(segments)))
	return segments, nil
}

func (d *Driver) limitReached(n int) bool {
	return d.params.MaxSegments > 0 && n >= d.params.MaxSegments
}

func (d *Driver) segmentSeed(seed movie.Coordinate) ([]movie.Coordinate, error) {
	p, err := movie.NewPatch(d.movie, seed, d.params.PatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build patch around %v: %w", seed, err)
	}
	pixels, err := d.solver.Segment(embedding.New(p))
	if err != nil {
		return nil, fmt.Errorf("solver failed on seed %v: %w", seed, err)
	}
	return pixels, nil
}
