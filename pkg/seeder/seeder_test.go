package seeder

import (
	"errors"
	"math"
	"path/filepath"
	"runtime"
	"testing"

	"hnccorr/pkg/movie"
)

// rankedMovie returns a 1-D movie of 10 pixels and 3 frames. Pixels 8 and 9
// share a trace, pixel 7 is half correlated with pixel 8 and pixels 0 to 6
// alternate between anti-correlated traces. With a neighborhood of 3, pixel 9
// has the highest local correlation (1.0), pixel 8 the second highest (0.75)
// and pixel 7 the third (0.0).
func rankedMovie(t *testing.T) *movie.Movie {
	t.Helper()
	up := []float64{0, 1, 2}
	down := []float64{2, 1, 0}
	mixed := []float64{0, 2, 1}

	traces := [][]float64{down, up, down, up, down, up, down, mixed, up, up}
	values := make([]float64, 3*10)
	for p, trace := range traces {
		for f, v := range trace {
			values[f*10+p] = v
		}
	}

	m, err := movie.FromFrames("ranked", []int{3, 10}, values)
	if err != nil {
		t.Fatalf("Failed to create movie: %v", err)
	}
	return m
}

func newSeeder(t *testing.T, cfg Config) *LocalCorrelationSeeder {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create seeder: %v", err)
	}
	return s
}

func expectNext(t *testing.T, s *LocalCorrelationSeeder, want movie.Coordinate) {
	t.Helper()
	got, ok := s.Next()
	if want == nil {
		if ok {
			t.Fatalf("Expected no seed, got %v", got)
		}
		return
	}
	if !ok {
		t.Fatalf("Expected seed %v, got none", want)
	}
	if !got.Equal(want) {
		t.Fatalf("Expected seed %v, got %v", want, got)
	}
}

func testConfig() Config {
	return Config{NeighborhoodSize: 3, KeepFraction: 0.2}
}

// TestLocalCorrelationSeeder verifies the ranking order
func TestLocalCorrelationSeeder(t *testing.T) {
	s := newSeeder(t, testConfig())
	s.SelectSeeds(rankedMovie(t))

	expectNext(t, s, movie.Coordinate{9})
	expectNext(t, s, movie.Coordinate{8})
	expectNext(t, s, nil)
	expectNext(t, s, nil)
}

// TestLocalCorrelationSeederReset verifies that reset rewinds the cursor
func TestLocalCorrelationSeederReset(t *testing.T) {
	s := newSeeder(t, testConfig())
	s.SelectSeeds(rankedMovie(t))

	expectNext(t, s, movie.Coordinate{9})
	s.Reset()
	expectNext(t, s, movie.Coordinate{9})
	expectNext(t, s, movie.Coordinate{8})
	expectNext(t, s, nil)
	s.Reset()
	expectNext(t, s, movie.Coordinate{9})
}

// TestSeederExcludePixels verifies that exclusions survive reset
func TestSeederExcludePixels(t *testing.T) {
	s := newSeeder(t, testConfig())
	s.SelectSeeds(rankedMovie(t))

	expectNext(t, s, movie.Coordinate{9})
	s.ExcludePixels([]movie.Coordinate{{8}})
	expectNext(t, s, nil)

	s.Reset()
	expectNext(t, s, movie.Coordinate{9})
	expectNext(t, s, nil)

	s.ExcludePixels([]movie.Coordinate{{9}})
	s.Reset()
	expectNext(t, s, nil)

	if !s.IsExcluded(movie.Coordinate{8}) || s.IsExcluded(movie.Coordinate{7}) {
		t.Error("Unexpected exclusion state")
	}
}

// TestSeederExclusionRadius verifies that neighbors of excluded pixels are excluded
func TestSeederExclusionRadius(t *testing.T) {
	cfg := testConfig()
	cfg.ExclusionRadius = 2
	s := newSeeder(t, cfg)
	s.SelectSeeds(rankedMovie(t))

	expectNext(t, s, movie.Coordinate{9})
	s.ExcludePixels([]movie.Coordinate{{6}})
	expectNext(t, s, nil)

	for p := 4; p <= 8; p++ {
		if !s.IsExcluded(movie.Coordinate{p}) {
			t.Errorf("Expected pixel %d to be excluded", p)
		}
	}
	if s.IsExcluded(movie.Coordinate{3}) || s.IsExcluded(movie.Coordinate{9}) {
		t.Error("Expected pixels 3 and 9 to remain")
	}
}

// TestSeederIgnoresInvalidExclusions verifies that foreign coordinates are dropped
func TestSeederIgnoresInvalidExclusions(t *testing.T) {
	s := newSeeder(t, testConfig())
	s.ExcludePixels([]movie.Coordinate{{9}})
	s.SelectSeeds(rankedMovie(t))

	s.ExcludePixels([]movie.Coordinate{{10}, {-1}, {8, 0}})
	expectNext(t, s, movie.Coordinate{9})
	expectNext(t, s, movie.Coordinate{8})
}

// TestSeederScores verifies the retained scores
func TestSeederScores(t *testing.T) {
	tests := []struct {
		reduction Reduction
		want      []float64
	}{
		{CenterMean, []float64{1, 0.75}},
		{CenterMedian, []float64{1, 0.5}},
		{PairwiseMean, []float64{1, 2.0 / 3.0}},
	}

	for _, tt := range tests {
		t.Run(string(tt.reduction), func(t *testing.T) {
			cfg := testConfig()
			cfg.Reduction = tt.reduction
			s := newSeeder(t, cfg)
			s.SelectSeeds(rankedMovie(t))

			candidates := s.Candidates()
			if len(candidates) != 2 {
				t.Fatalf("Expected 2 candidates, got %d", len(candidates))
			}
			for i, c := range candidates {
				if math.Abs(c.Score-tt.want[i]) > 1e-9 {
					t.Errorf("Candidate %v: expected score %f, got %f", c.Coordinate, tt.want[i], c.Score)
				}
			}
			if !candidates[0].Coordinate.Equal(movie.Coordinate{9}) || !candidates[1].Coordinate.Equal(movie.Coordinate{8}) {
				t.Errorf("Expected candidates (9,) and (8,), got %v and %v",
					candidates[0].Coordinate, candidates[1].Coordinate)
			}
		})
	}
}

// TestSeederDeterminism verifies identical rankings across runs
func TestSeederDeterminism(t *testing.T) {
	m := checkerMovie(t, 12, 9)
	cfg := Config{NeighborhoodSize: 3, KeepFraction: 1}

	var sequences [2][]movie.Coordinate
	for run := range sequences {
		s := newSeeder(t, cfg)
		s.SelectSeeds(m)
		for {
			c, ok := s.Next()
			if !ok {
				break
			}
			sequences[run] = append(sequences[run], c)
		}
	}

	if len(sequences[0]) != 12*9 || len(sequences[0]) != len(sequences[1]) {
		t.Fatalf("Expected two sequences of %d seeds, got %d and %d", 12*9, len(sequences[0]), len(sequences[1]))
	}
	for i := range sequences[0] {
		if !sequences[0][i].Equal(sequences[1][i]) {
			t.Fatalf("Sequences differ at %d: %v vs %v", i, sequences[0][i], sequences[1][i])
		}
	}
}

// TestSeederTieBreak verifies row-major order among equal scores
func TestSeederTieBreak(t *testing.T) {
	// every trace identical, so every score is 1
	values := make([]float64, 3*4*4)
	for i := range values {
		values[i] = float64(i / 16)
	}
	m, err := movie.FromFrames("flat", []int{3, 4, 4}, values)
	if err != nil {
		t.Fatal(err)
	}

	s := newSeeder(t, Config{NeighborhoodSize: 3, KeepFraction: 1})
	s.SelectSeeds(m)
	for want := range movie.GeneratePixels([]int{4, 4}) {
		expectNext(t, s, want)
	}
	expectNext(t, s, nil)
}

// TestSeederPadding verifies that pixels near the edges never appear
func TestSeederPadding(t *testing.T) {
	m := checkerMovie(t, 10, 8)
	s := newSeeder(t, Config{NeighborhoodSize: 3, KeepFraction: 1, Padding: 2})
	s.SelectSeeds(m)

	candidates := s.Candidates()
	if len(candidates) != 6*4 {
		t.Fatalf("Expected %d candidates, got %d", 6*4, len(candidates))
	}
	for _, c := range candidates {
		if c.Coordinate[0] < 2 || c.Coordinate[0] > 7 || c.Coordinate[1] < 2 || c.Coordinate[1] > 5 {
			t.Errorf("Candidate %v lies within the padding", c.Coordinate)
		}
	}

	s = newSeeder(t, Config{NeighborhoodSize: 3, KeepFraction: 1, Padding: 5})
	s.SelectSeeds(m)
	expectNext(t, s, nil)
}

// TestSeederGrid verifies that only the best pixel per block is kept
func TestSeederGrid(t *testing.T) {
	m := checkerMovie(t, 6, 6)
	s := newSeeder(t, Config{NeighborhoodSize: 3, KeepFraction: 1, GridSize: 3})
	s.SelectSeeds(m)

	candidates := s.Candidates()
	if len(candidates) != 4 {
		t.Fatalf("Expected one candidate per 3x3 block, got %d", len(candidates))
	}
	blocks := make(map[string]bool)
	for _, c := range candidates {
		blocks[movie.Coordinate{c.Coordinate[0] / 3, c.Coordinate[1] / 3}.String()] = true
	}
	if len(blocks) != 4 {
		t.Errorf("Expected candidates in 4 distinct blocks, got %v", blocks)
	}
}

// TestSeederGridUneven verifies blocks at the far edges that are cut short
func TestSeederGridUneven(t *testing.T) {
	m := checkerMovie(t, 7, 5)
	s := newSeeder(t, Config{NeighborhoodSize: 3, KeepFraction: 1, GridSize: 3})
	s.SelectSeeds(m)

	if got := len(s.Candidates()); got != 6 {
		t.Errorf("Expected 3x2 blocks to give 6 candidates, got %d", got)
	}
}

// TestSeederKeepFraction verifies the rounding of the retained count
func TestSeederKeepFraction(t *testing.T) {
	tests := []struct {
		rows, cols int
		fraction   float64
		want       int
	}{
		{10, 10, 0.29, 29},
		{10, 10, 0.57, 57},
		{10, 10, 1, 100},
		{7, 3, 1.0 / 3, 7},
		{2, 2, 0.2, 0},
	}

	for _, tt := range tests {
		s := newSeeder(t, Config{NeighborhoodSize: 3, KeepFraction: tt.fraction})
		s.SelectSeeds(checkerMovie(t, tt.rows, tt.cols))
		if got := len(s.Candidates()); got != tt.want {
			t.Errorf("Keep %g of %d: expected %d candidates, got %d", tt.fraction, tt.rows*tt.cols, tt.want, got)
		}
	}
}

// TestSeederMemoryMappedMovie verifies that a memory-mapped movie is ranked
// like its in-memory copy without being loaded onto the heap
func TestSeederMemoryMappedMovie(t *testing.T) {
	dataSize := []int{400, 64, 8}
	frameLen := dataSize[1] * dataSize[2]
	values := make([]uint16, dataSize[0]*frameLen)
	state := uint32(11)
	for i := range values {
		state = state*1664525 + 1013904223
		values[i] = uint16(state >> 16)
	}

	path := filepath.Join(t.TempDir(), "mapped.npy")
	err := movie.WriteNPY(path, dataSize, func(frame int) ([]uint16, error) {
		return values[frame*frameLen : (frame+1)*frameLen], nil
	})
	if err != nil {
		t.Fatalf("Failed to write NPY: %v", err)
	}
	mapped, err := movie.OpenNPY("mapped", path)
	if err != nil {
		t.Fatalf("Failed to open NPY: %v", err)
	}
	defer mapped.Close()

	inMemory, err := movie.New("memory", dataSize, movie.Uint16Storage(values))
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{NeighborhoodSize: 3, KeepFraction: 0.5}
	fromMapped := newSeeder(t, cfg)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	fromMapped.SelectSeeds(mapped)
	runtime.ReadMemStats(&after)

	dataBytes := uint64(2 * len(values))
	if allocated := after.TotalAlloc - before.TotalAlloc; allocated >= dataBytes {
		t.Errorf("Scoring allocated %d bytes for %d bytes of movie data", allocated, dataBytes)
	}

	fromMemory := newSeeder(t, cfg)
	fromMemory.SelectSeeds(inMemory)

	got, want := fromMapped.Candidates(), fromMemory.Candidates()
	if len(got) != len(want) || len(got) != frameLen/2 {
		t.Fatalf("Expected %d candidates from both movies, got %d and %d", frameLen/2, len(got), len(want))
	}
	for i := range want {
		if !got[i].Coordinate.Equal(want[i].Coordinate) || got[i].Score != want[i].Score {
			t.Errorf("Rank %d: expected %v (%f), got %v (%f)", i,
				want[i].Coordinate, want[i].Score, got[i].Coordinate, got[i].Score)
		}
	}
}

// TestSeederUndefinedScoresLast verifies that NaN scores rank after finite ones
func TestSeederUndefinedScoresLast(t *testing.T) {
	// pixel 0 is constant, so it has no defined correlation
	values := []float64{
		5, 0, 1, 2,
		5, 1, 2, 0,
		5, 2, 0, 1,
	}
	m, err := movie.FromFrames("nan", []int{3, 4}, values)
	if err != nil {
		t.Fatal(err)
	}

	s := newSeeder(t, Config{NeighborhoodSize: 3, KeepFraction: 1})
	s.SelectSeeds(m)

	candidates := s.Candidates()
	last := candidates[len(candidates)-1]
	if !last.Coordinate.Equal(movie.Coordinate{0}) || !math.IsNaN(last.Score) {
		t.Errorf("Expected constant pixel last with NaN score, got %v with %f", last.Coordinate, last.Score)
	}
}

// TestSeederInvalidConfiguration verifies parameter validation
func TestSeederInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero neighborhood", Config{NeighborhoodSize: 0, KeepFraction: 0.5}},
		{"zero keep fraction", Config{NeighborhoodSize: 3, KeepFraction: 0}},
		{"keep fraction above one", Config{NeighborhoodSize: 3, KeepFraction: 1.5}},
		{"negative padding", Config{NeighborhoodSize: 3, KeepFraction: 0.5, Padding: -1}},
		{"negative grid", Config{NeighborhoodSize: 3, KeepFraction: 0.5, GridSize: -2}},
		{"negative exclusion radius", Config{NeighborhoodSize: 3, KeepFraction: 0.5, ExclusionRadius: -1}},
		{"unknown reduction", Config{NeighborhoodSize: 3, KeepFraction: 0.5, Reduction: "max"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, movie.ErrInvalidConfiguration) {
				t.Errorf("Expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}

	if _, err := New(DefaultConfig()); err != nil {
		t.Errorf("Default configuration rejected: %v", err)
	}
}

// checkerMovie returns a 2-D movie with varied but deterministic traces.
func checkerMovie(t *testing.T, rows, cols int) *movie.Movie {
	t.Helper()
	frames := 6
	values := make([]float64, frames*rows*cols)
	for f := 0; f < frames; f++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				values[(f*rows+r)*cols+c] = float64((f*(r+1)+c*c+(r*c)%5)%7) + 0.1*float64(f)
			}
		}
	}
	m, err := movie.FromFrames("checker", []int{frames, rows, cols}, values)
	if err != nil {
		t.Fatalf("Failed to create movie: %v", err)
	}
	return m
}
