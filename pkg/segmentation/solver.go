package segmentation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"hnccorr/pkg/embedding"
	"hnccorr/pkg/movie"
)

// Solver assigns the pixels of a patch to the cell anchored at its seed. It
// returns the movie coordinates of the cell, or none if no cell was found.
type Solver interface {
	Segment(e *embedding.CorrelationEmbedding) ([]movie.Coordinate, error)
}

// SolverConfig holds the DecaySolver parameters.
type SolverConfig struct {
	// Alpha is the decay rate of the similarity weight with squared distance
	// between embedding vectors.
	Alpha float64

	// Threshold is the minimum weight for a pixel to join the seed's cell.
	Threshold float64

	// MinSize is the smallest pixel count accepted as a cell.
	MinSize int
}

// DecaySolver is a simple reference solver. A pixel belongs to the seed's cell
// when exp(-alpha * ||v_seed - v_pixel||^2) reaches the threshold, where v are
// rows of the correlation embedding. Pixels with a constant trace never join.
type DecaySolver struct {
	config SolverConfig
}

// NewDecaySolver validates cfg and creates a solver.
func NewDecaySolver(cfg SolverConfig) (*DecaySolver, error) {
	if cfg.Alpha <= 0 {
		return nil, fmt.Errorf("decay alpha %g should be positive: %w", cfg.Alpha, movie.ErrInvalidConfiguration)
	}
	if !(cfg.Threshold > 0 && cfg.Threshold <= 1) {
		return nil, fmt.Errorf("threshold %g should be in (0, 1]: %w", cfg.Threshold, movie.ErrInvalidConfiguration)
	}
	if cfg.MinSize < 1 {
		return nil, fmt.Errorf("minimum cell size %d should be positive: %w", cfg.MinSize, movie.ErrInvalidConfiguration)
	}
	return &DecaySolver{config: cfg}, nil
}

// Segment implements Solver.
func (s *DecaySolver) Segment(e *embedding.CorrelationEmbedding) ([]movie.Coordinate, error) {
	p := e.Patch()
	seed := p.ToPatchCoordinate(p.CenterSeed())

	seedIdx, err := p.PixelIndex(seed)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(e.At(seedIdx, seedIdx)) {
		// constant seed trace
		return nil, nil
	}

	finite := e.Finite()
	reference := mat.Row(nil, seedIdx, finite)

	weights, err := embedding.ExponentialDistanceDecay(reference, finite, s.config.Alpha)
	if err != nil {
		return nil, err
	}

	var cell []movie.Coordinate
	i := 0
	for c := range p.EnumeratePixels() {
		if weights[i] >= s.config.Threshold && !math.IsNaN(e.At(i, i)) {
			cell = append(cell, c)
		}
		i++
	}

	if len(cell) < s.config.MinSize {
		return nil, nil
	}
	return cell, nil
}
