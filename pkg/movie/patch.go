package movie

import (
	"fmt"
	"iter"

	"gonum.org/v1/gonum/mat"
)

// Patch is a square (or cubic) sub-window of a Movie around a seed pixel.
//
// The window has width patchSize on every spatial axis. If a window centered
// on the seed would extend outside the movie, it is shifted inward so that it
// fits, in which case the seed is no longer at the geometric center.
//
// Patch coordinates are relative to the patch's top-left pixel, whose movie
// coordinate is the coordinate offset. A Patch only reads from its Movie.
type Patch struct {
	movie      *Movie
	centerSeed Coordinate
	patchSize  int
	offset     Coordinate
	shape      []int
}

// NewPatch creates the patch of width patchSize around centerSeed.
// patchSize must be odd and no larger than the movie on any axis.
func NewPatch(m *Movie, centerSeed Coordinate, patchSize int) (*Patch, error) {
	if patchSize < 1 || patchSize%2 == 0 {
		return nil, fmt.Errorf("patch size %d should be a positive odd number: %w", patchSize, ErrInvalidConfiguration)
	}
	if len(centerSeed) != m.NumDimensions() {
		return nil, fmt.Errorf("seed %v has %d components, movie has %d dimensions: %w",
			centerSeed, len(centerSeed), m.NumDimensions(), ErrDimensionMismatch)
	}
	if !m.IsValidPixelCoordinate(centerSeed) {
		return nil, fmt.Errorf("seed %v outside movie shape %v: %w", centerSeed, m.PixelShape(), ErrOutOfBounds)
	}
	for i, extent := range m.PixelShape() {
		if patchSize > extent {
			return nil, fmt.Errorf("patch size %d exceeds movie extent %d on axis %d: %w",
				patchSize, extent, i, ErrInvalidConfiguration)
		}
	}

	shape := make([]int, m.NumDimensions())
	for i := range shape {
		shape[i] = patchSize
	}

	p := &Patch{
		movie:      m,
		centerSeed: append(Coordinate(nil), centerSeed...),
		patchSize:  patchSize,
		shape:      shape,
	}
	p.offset = p.computeCoordinateOffset()
	return p, nil
}

// computeCoordinateOffset clamps the top-left corner to the movie, then clamps
// the bottom-right corner and re-anchors the top-left from it. Clamping only
// one side would leave a narrower window near the far boundary.
func (p *Patch) computeCoordinateOffset() Coordinate {
	halfWidth := (p.patchSize - 1) / 2
	pixelShape := p.movie.PixelShape()

	topLeft := make(Coordinate, len(p.centerSeed))
	for i, c := range p.centerSeed {
		topLeft[i] = max(c-halfWidth, 0)
	}

	// exclusive
	bottomRight := make(Coordinate, len(topLeft))
	for i, c := range topLeft {
		bottomRight[i] = min(c+p.patchSize, pixelShape[i])
	}

	for i, c := range bottomRight {
		topLeft[i] = c - p.patchSize
	}
	return topLeft
}

// Movie returns the movie the patch views.
func (p *Patch) Movie() *Movie { return p.movie }

// CenterSeed returns the seed pixel in movie coordinates.
func (p *Patch) CenterSeed() Coordinate { return append(Coordinate(nil), p.centerSeed...) }

// CoordinateOffset returns the movie coordinate of the patch's local origin.
func (p *Patch) CoordinateOffset() Coordinate { return append(Coordinate(nil), p.offset...) }

// PatchSize returns the width of the patch on every axis.
func (p *Patch) PatchSize() int { return p.patchSize }

// NumFrames returns the number of frames in the movie.
func (p *Patch) NumFrames() int { return p.movie.NumFrames() }

// PixelShape returns the spatial shape of the patch.
func (p *Patch) PixelShape() []int { return append([]int(nil), p.shape...) }

// NumPixels returns the number of pixels covered by the patch.
func (p *Patch) NumPixels() int { return product(p.shape) }

// ToMovieCoordinate converts a patch coordinate into a movie coordinate.
func (p *Patch) ToMovieCoordinate(patchCoordinate Coordinate) Coordinate {
	return patchCoordinate.Add(p.offset)
}

// ToPatchCoordinate converts a movie coordinate into a patch coordinate.
func (p *Patch) ToPatchCoordinate(movieCoordinate Coordinate) Coordinate {
	return movieCoordinate.Sub(p.offset)
}

// Contains reports whether a patch coordinate lies inside the patch.
func (p *Patch) Contains(patchCoordinate Coordinate) bool {
	if len(patchCoordinate) != len(p.shape) {
		return false
	}
	for _, v := range patchCoordinate {
		if v < 0 || v >= p.patchSize {
			return false
		}
	}
	return true
}

// PixelIndex returns the row-major index of a patch coordinate. This is the
// order used by EnumeratePixels and by the rows of Traces.
func (p *Patch) PixelIndex(patchCoordinate Coordinate) (int, error) {
	if !p.Contains(patchCoordinate) {
		return 0, fmt.Errorf("patch coordinate %v outside patch shape %v: %w", patchCoordinate, p.shape, ErrOutOfBounds)
	}
	return RowMajorIndex(p.shape, patchCoordinate), nil
}

// EnumeratePixels yields the movie coordinates of every pixel in the patch in
// row-major patch order.
func (p *Patch) EnumeratePixels() iter.Seq[Coordinate] {
	return func(yield func(Coordinate) bool) {
		for local := range GeneratePixels(p.shape) {
			if !yield(p.ToMovieCoordinate(local)) {
				return
			}
		}
	}
}

// At returns the value of a pixel, addressed in patch coordinates.
func (p *Patch) At(frame int, patchCoordinate Coordinate) (float64, error) {
	if !p.Contains(patchCoordinate) {
		return 0, fmt.Errorf("patch coordinate %v outside patch shape %v: %w", patchCoordinate, p.shape, ErrOutOfBounds)
	}
	return p.movie.At(frame, p.ToMovieCoordinate(patchCoordinate))
}

// Trace returns the intensity of a pixel across all frames, addressed in
// patch coordinates.
func (p *Patch) Trace(patchCoordinate Coordinate) ([]float64, error) {
	if !p.Contains(patchCoordinate) {
		return nil, fmt.Errorf("patch coordinate %v outside patch shape %v: %w", patchCoordinate, p.shape, ErrOutOfBounds)
	}
	return p.movie.Trace(p.ToMovieCoordinate(patchCoordinate))
}

// Traces returns a NumFrames x NumPixels matrix whose column j holds the trace
// of the j-th pixel in enumeration order.
func (p *Patch) Traces() *mat.Dense {
	traces := mat.NewDense(p.NumFrames(), p.NumPixels(), nil)
	j := 0
	for c := range p.EnumeratePixels() {
		// c is inside the movie by construction of the offset
		trace, _ := p.movie.Trace(c)
		traces.SetCol(j, trace)
		j++
	}
	return traces
}
