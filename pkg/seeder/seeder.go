// Package seeder ranks the pixels of a movie by local correlation and serves
// them, best first, as candidate cell centers.
//
// Scoring happens once per movie in SelectSeeds. Iteration with Next is cheap
// and can be rewound with Reset, while ExcludePixels retires pixels that were
// already assigned to a detected cell. A LocalCorrelationSeeder must be driven
// from a single goroutine.
package seeder

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"hnccorr/pkg/embedding"
	"hnccorr/pkg/movie"
)

// Reduction selects how the correlations inside a pixel's neighborhood are
// reduced to a single score.
type Reduction string

const (
	// CenterMean is the mean correlation between the pixel and each of its
	// neighbors.
	CenterMean Reduction = "center-mean"

	// CenterMedian is the median correlation between the pixel and each of its
	// neighbors.
	CenterMedian Reduction = "center-median"

	// PairwiseMean is the mean of all off-diagonal correlations between the
	// pixels of the window, the pixel itself included.
	PairwiseMean Reduction = "pairwise-mean"
)

// Config holds the seeder parameters.
type Config struct {
	// NeighborhoodSize is the width of the window, per axis, over which the
	// local correlation of a pixel is computed.
	NeighborhoodSize int

	// KeepFraction is the fraction of ranked pixels, in (0, 1], kept as
	// candidates. The count is rounded down, so a small pool can keep no
	// seeds at all (0.2 of 4 pixels keeps none).
	KeepFraction float64

	// Padding excludes every pixel closer than Padding to a movie edge.
	Padding int

	// GridSize, if larger than one, only lets the best pixel of each
	// GridSize-wide block take part in the ranking.
	GridSize int

	// ExclusionRadius also excludes every pixel within this Chebyshev distance
	// of an excluded pixel.
	ExclusionRadius int

	// Reduction defaults to CenterMean.
	Reduction Reduction
}

// DefaultConfig returns the parameters commonly used for 2-D two-photon data.
func DefaultConfig() Config {
	return Config{
		NeighborhoodSize: 3,
		KeepFraction:     0.4,
		Padding:          0,
		GridSize:         1,
		ExclusionRadius:  0,
		Reduction:        CenterMean,
	}
}

// Validate checks that every parameter is in range.
func (c Config) Validate() error {
	if c.NeighborhoodSize < 1 {
		return fmt.Errorf("neighborhood size %d should be positive: %w", c.NeighborhoodSize, movie.ErrInvalidConfiguration)
	}
	if !(c.KeepFraction > 0 && c.KeepFraction <= 1) {
		return fmt.Errorf("keep fraction %g should be in (0, 1]: %w", c.KeepFraction, movie.ErrInvalidConfiguration)
	}
	if c.Padding < 0 {
		return fmt.Errorf("padding %d should not be negative: %w", c.Padding, movie.ErrInvalidConfiguration)
	}
	if c.GridSize < 0 {
		return fmt.Errorf("grid size %d should not be negative: %w", c.GridSize, movie.ErrInvalidConfiguration)
	}
	if c.ExclusionRadius < 0 {
		return fmt.Errorf("exclusion radius %d should not be negative: %w", c.ExclusionRadius, movie.ErrInvalidConfiguration)
	}
	switch c.Reduction {
	case "", CenterMean, CenterMedian, PairwiseMean:
	default:
		return fmt.Errorf("unknown reduction %q: %w", c.Reduction, movie.ErrInvalidConfiguration)
	}
	return nil
}

// Candidate is a ranked seed pixel.
type Candidate struct {
	Coordinate movie.Coordinate
	Score      float64

	index int
}

// LocalCorrelationSeeder selects seeds by local correlation.
type LocalCorrelationSeeder struct {
	config Config

	movie      *movie.Movie
	candidates []Candidate
	cursor     int
	excluded   map[int]struct{}
}

// New creates a seeder. It fails with movie.ErrInvalidConfiguration if a
// parameter is out of range.
func New(cfg Config) (*LocalCorrelationSeeder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GridSize == 0 {
		cfg.GridSize = 1
	}
	if cfg.Reduction == "" {
		cfg.Reduction = CenterMean
	}
	return &LocalCorrelationSeeder{
		config:   cfg,
		excluded: make(map[int]struct{}),
	}, nil
}

// Config returns the effective configuration.
func (s *LocalCorrelationSeeder) Config() Config { return s.config }

// SelectSeeds scores every admissible pixel of m and keeps the best
// KeepFraction of them. It replaces any earlier ranking, rewinds the cursor
// and clears the exclusions of a previous movie.
func (s *LocalCorrelationSeeder) SelectSeeds(m *movie.Movie) {
	s.movie = m
	s.cursor = 0
	s.excluded = make(map[int]struct{})

	band := newTraceBand(m, s.config.NeighborhoodSize)
	offsets := neighborOffsets(m.NumDimensions(), s.config.NeighborhoodSize)
	sc := &scorer{reduction: s.config.Reduction, band: band, offsets: offsets}

	var ranked []Candidate
	for c := range movie.GeneratePixels(m.PixelShape()) {
		if !s.admissible(c) {
			continue
		}
		ranked = append(ranked, Candidate{
			Coordinate: c,
			Score:      sc.score(m, c),
			index:      m.PixelIndex(c),
		})
	}

	if s.config.GridSize > 1 {
		ranked = s.bestPerBlock(ranked)
	}

	sort.Slice(ranked, func(i, j int) bool {
		return rankedBefore(ranked[i], ranked[j])
	})

	s.candidates = ranked[:retainedCount(s.config.KeepFraction, len(ranked))]
}

// retainedCount is floor(fraction * n). The product is nudged up before
// rounding down so that fractions such as 0.29 of 100 keep 29 and not 28.
func retainedCount(fraction float64, n int) int {
	return min(int(math.Floor(fraction*float64(n)+1e-9)), n)
}

// Next returns the best remaining candidate that has not been excluded. The
// second return value is false once the ranking is exhausted.
func (s *LocalCorrelationSeeder) Next() (movie.Coordinate, bool) {
	for s.cursor < len(s.candidates) {
		c := s.candidates[s.cursor]
		s.cursor++
		if _, ok := s.excluded[c.index]; ok {
			continue
		}
		return append(movie.Coordinate(nil), c.Coordinate...), true
	}
	return nil, false
}

// ExcludePixels prevents the given pixels, and those within ExclusionRadius of
// them, from being returned by any later call to Next, including after Reset.
// Pixels outside the movie are ignored.
func (s *LocalCorrelationSeeder) ExcludePixels(pixels []movie.Coordinate) {
	if s.movie == nil {
		return
	}
	offsets := neighborOffsets(s.movie.NumDimensions(), 2*s.config.ExclusionRadius+1)
	for _, p := range pixels {
		if len(p) != s.movie.NumDimensions() {
			continue
		}
		for _, off := range offsets {
			c := p.Add(off)
			if s.movie.IsValidPixelCoordinate(c) {
				s.excluded[s.movie.PixelIndex(c)] = struct{}{}
			}
		}
	}
}

// Reset rewinds to the best candidate. Exclusions are kept and scores are not
// recomputed.
func (s *LocalCorrelationSeeder) Reset() {
	s.cursor = 0
}

// Candidates returns the retained ranking, best first, exclusions included.
func (s *LocalCorrelationSeeder) Candidates() []Candidate {
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// IsExcluded reports whether a pixel has been excluded.
func (s *LocalCorrelationSeeder) IsExcluded(c movie.Coordinate) bool {
	if s.movie == nil || !s.movie.IsValidPixelCoordinate(c) {
		return false
	}
	_, ok := s.excluded[s.movie.PixelIndex(c)]
	return ok
}

// admissible reports whether c is at least Padding away from every edge.
func (s *LocalCorrelationSeeder) admissible(c movie.Coordinate) bool {
	shape := s.movie.PixelShape()
	for i, v := range c {
		if v < s.config.Padding || shape[i]-1-v < s.config.Padding {
			return false
		}
	}
	return true
}

// scorer reduces the correlations inside a pixel's window to one score. Its
// buffers are reused from pixel to pixel.
type scorer struct {
	reduction Reduction
	band      *traceBand
	offsets   [][]int

	neighbor movie.Coordinate
	window   []int
	values   []float64
}

func (sc *scorer) score(m *movie.Movie, c movie.Coordinate) float64 {
	center := m.PixelIndex(c)
	if len(sc.neighbor) != len(c) {
		sc.neighbor = make(movie.Coordinate, len(c))
	}

	// window[0] is the pixel itself
	sc.window = append(sc.window[:0], center)
	for _, off := range sc.offsets {
		for i := range c {
			sc.neighbor[i] = c[i] + off[i]
		}
		if !m.IsValidPixelCoordinate(sc.neighbor) {
			continue
		}
		if idx := m.PixelIndex(sc.neighbor); idx != center {
			sc.window = append(sc.window, idx)
		}
	}

	sc.values = sc.values[:0]
	switch sc.reduction {
	case PairwiseMean:
		for i := range sc.window {
			for j := i + 1; j < len(sc.window); j++ {
				sc.values = appendDefined(sc.values, embedding.Correlation(sc.band.trace(sc.window[i]), sc.band.trace(sc.window[j])))
			}
		}
	default:
		for _, n := range sc.window[1:] {
			sc.values = appendDefined(sc.values, embedding.Correlation(sc.band.trace(center), sc.band.trace(n)))
		}
	}

	if len(sc.values) == 0 {
		return math.NaN()
	}
	if sc.reduction == CenterMedian {
		sort.Float64s(sc.values)
		return stat.Quantile(0.5, stat.Empirical, sc.values, nil)
	}
	return stat.Mean(sc.values, nil)
}

// bestPerBlock keeps the highest-ranked candidate of every grid block.
func (s *LocalCorrelationSeeder) bestPerBlock(ranked []Candidate) []Candidate {
	g := s.config.GridSize
	blockShape := s.movie.PixelShape()
	for i, extent := range blockShape {
		blockShape[i] = (extent + g - 1) / g
	}

	best := make(map[int]Candidate)
	var order []int
	block := make(movie.Coordinate, len(blockShape))
	for _, c := range ranked {
		for i, v := range c.Coordinate {
			block[i] = v / g
		}
		key := movie.RowMajorIndex(blockShape, block)
		current, ok := best[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || rankedBefore(c, current) {
			best[key] = c
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// rankedBefore orders by descending score with undefined scores last, then by
// row-major pixel order.
func rankedBefore(a, b Candidate) bool {
	aNaN, bNaN := math.IsNaN(a.Score), math.IsNaN(b.Score)
	switch {
	case aNaN != bNaN:
		return bNaN
	case !aNaN && a.Score != b.Score:
		return a.Score > b.Score
	default:
		return a.index < b.index
	}
}

// traceBand caches the traces of a few consecutive rows along the first
// spatial axis. Pixels are scored in row-major order and a window spans at
// most NeighborhoodSize rows, so a ring of that many rows holds every trace a
// score needs while the rest of the movie stays in its storage.
type traceBand struct {
	movie     *movie.Movie
	rowPixels int
	frames    int

	// rows[slot] holds the traces of row loaded[slot], pixel after pixel
	rows   [][]float64
	loaded []int
}

func newTraceBand(m *movie.Movie, neighborhoodSize int) *traceBand {
	slots := min(neighborhoodSize, m.PixelShape()[0])
	b := &traceBand{
		movie:     m,
		rowPixels: m.NumPixels() / m.PixelShape()[0],
		frames:    m.NumFrames(),
		rows:      make([][]float64, slots),
		loaded:    make([]int, slots),
	}
	for i := range b.rows {
		b.rows[i] = make([]float64, 0, b.rowPixels*b.frames)
		b.loaded[i] = -1
	}
	return b
}

// trace returns the trace of the pixel with row-major index idx. The slice is
// only valid until a row at least NeighborhoodSize rows away is requested.
func (b *traceBand) trace(idx int) []float64 {
	row := idx / b.rowPixels
	slot := row % len(b.rows)
	if b.loaded[slot] != row {
		b.load(slot, row)
	}
	start := (idx % b.rowPixels) * b.frames
	return b.rows[slot][start : start+b.frames]
}

func (b *traceBand) load(slot, row int) {
	buf := b.rows[slot][:0]
	for i := 0; i < b.rowPixels; i++ {
		// indices inside the row always map to valid pixels
		buf, _ = b.movie.AppendTrace(buf, b.movie.PixelCoordinate(row*b.rowPixels+i))
	}
	b.rows[slot] = buf
	b.loaded[slot] = row
}

// neighborOffsets returns every offset of a size-wide window. Offsets run
// from -(size-1)/2 to size/2 on each axis.
func neighborOffsets(dims, size int) [][]int {
	low := -(size - 1) / 2
	shape := make([]int, dims)
	for i := range shape {
		shape[i] = size
	}

	var offsets [][]int
	for c := range movie.GeneratePixels(shape) {
		off := make([]int, dims)
		for i, v := range c {
			off[i] = v + low
		}
		offsets = append(offsets, off)
	}
	return offsets
}

func appendDefined(values []float64, v float64) []float64 {
	if math.IsNaN(v) {
		return values
	}
	return append(values, v)
}
