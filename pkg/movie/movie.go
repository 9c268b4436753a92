// Package movie provides the calcium-imaging Movie container and the Patch
// sub-window used to segment a single candidate cell.
//
// A Movie stores T frames of a 1-, 2- or higher-dimensional pixel grid. All
// geometry in this package works on Coordinate values of arbitrary length, so
// the same code path serves every dimensionality.
package movie

import (
	"fmt"
	"io"
)

// Movie is an immutable T x d1 x ... x dk array of fluorescence values.
type Movie struct {
	// Name identifies the experiment.
	Name string

	// dataSize is (T, d1, ..., dk).
	dataSize []int

	// strides of each axis in the flat storage, time axis first.
	strides []int

	data Storage
}

// New creates a Movie over the given storage. dataSize is the full shape
// including the leading frame axis.
func New(name string, dataSize []int, data Storage) (*Movie, error) {
	if len(dataSize) < 2 {
		return nil, fmt.Errorf("movie %q needs a frame axis and at least one spatial axis, got shape %v: %w",
			name, dataSize, ErrDimensionMismatch)
	}
	for i, extent := range dataSize {
		if extent < 1 {
			return nil, fmt.Errorf("movie %q axis %d has extent %d: %w", name, i, extent, ErrInvalidConfiguration)
		}
	}
	if n := product(dataSize); data.Len() != n {
		return nil, fmt.Errorf("movie %q shape %v needs %d values, storage has %d: %w",
			name, dataSize, n, data.Len(), ErrDimensionMismatch)
	}

	size := append([]int(nil), dataSize...)
	strides := make([]int, len(size))
	stride := 1
	for i := len(size) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= size[i]
	}

	return &Movie{
		Name:     name,
		dataSize: size,
		strides:  strides,
		data:     data,
	}, nil
}

// FromFrames builds an in-memory movie from float64 values laid out as
// (T, d1, ..., dk).
func FromFrames(name string, dataSize []int, values []float64) (*Movie, error) {
	return New(name, dataSize, Float64Storage(values))
}

// DataSize returns the full shape (T, d1, ..., dk).
func (m *Movie) DataSize() []int { return append([]int(nil), m.dataSize...) }

// NumFrames returns the number of frames in the movie.
func (m *Movie) NumFrames() int { return m.dataSize[0] }

// PixelShape returns the spatial resolution, excluding the time axis.
func (m *Movie) PixelShape() []int { return append([]int(nil), m.dataSize[1:]...) }

// NumDimensions returns the number of spatial dimensions.
func (m *Movie) NumDimensions() int { return len(m.dataSize) - 1 }

// NumPixels returns the number of pixels in a single frame.
func (m *Movie) NumPixels() int { return product(m.dataSize[1:]) }

// IsValidPixelCoordinate reports whether c addresses a pixel of the movie.
func (m *Movie) IsValidPixelCoordinate(c Coordinate) bool {
	if len(c) != m.NumDimensions() {
		return false
	}
	for i, v := range c {
		if v < 0 || v >= m.dataSize[i+1] {
			return false
		}
	}
	return true
}

// ExtractValidPixels returns the coordinates of pixels that lie inside the
// movie, preserving input order and dropping duplicates.
func (m *Movie) ExtractValidPixels(pixels []Coordinate) []Coordinate {
	seen := make(map[int]struct{}, len(pixels))
	valid := make([]Coordinate, 0, len(pixels))
	for _, p := range pixels {
		if !m.IsValidPixelCoordinate(p) {
			continue
		}
		idx := m.PixelIndex(p)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		valid = append(valid, p)
	}
	return valid
}

// PixelIndex returns the row-major index of a valid pixel coordinate.
func (m *Movie) PixelIndex(c Coordinate) int {
	return RowMajorIndex(m.dataSize[1:], c)
}

// PixelCoordinate is the inverse of PixelIndex.
func (m *Movie) PixelCoordinate(idx int) Coordinate {
	return CoordinateAt(m.dataSize[1:], idx)
}

// At returns the value of pixel c in the given frame.
func (m *Movie) At(frame int, c Coordinate) (float64, error) {
	if frame < 0 || frame >= m.NumFrames() {
		return 0, fmt.Errorf("frame %d outside [0, %d): %w", frame, m.NumFrames(), ErrOutOfBounds)
	}
	if !m.IsValidPixelCoordinate(c) {
		return 0, fmt.Errorf("pixel %v outside movie shape %v: %w", c, m.PixelShape(), ErrOutOfBounds)
	}
	return m.data.At(m.flatIndex(frame, c)), nil
}

// Trace returns the intensity of pixel c across all frames.
func (m *Movie) Trace(c Coordinate) ([]float64, error) {
	return m.AppendTrace(make([]float64, 0, m.NumFrames()), c)
}

// AppendTrace appends the intensity of pixel c across all frames to dst and
// returns the extended slice.
func (m *Movie) AppendTrace(dst []float64, c Coordinate) ([]float64, error) {
	if !m.IsValidPixelCoordinate(c) {
		return dst, fmt.Errorf("pixel %v outside movie shape %v: %w", c, m.PixelShape(), ErrOutOfBounds)
	}
	base := m.flatIndex(0, c)
	for t := 0; t < m.NumFrames(); t++ {
		dst = append(dst, m.data.At(base+t*m.strides[0]))
	}
	return dst, nil
}

// Frame returns a copy of one frame in row-major pixel order.
func (m *Movie) Frame(frame int) ([]float64, error) {
	if frame < 0 || frame >= m.NumFrames() {
		return nil, fmt.Errorf("frame %d outside [0, %d): %w", frame, m.NumFrames(), ErrOutOfBounds)
	}
	values := make([]float64, m.NumPixels())
	base := frame * m.strides[0]
	for i := range values {
		values[i] = m.data.At(base + i)
	}
	return values, nil
}

// Close releases the storage backend if it holds external resources, such as
// a memory-mapped file. In-memory movies need not be closed.
func (m *Movie) Close() error {
	if c, ok := m.data.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Movie) flatIndex(frame int, c Coordinate) int {
	idx := frame * m.strides[0]
	for i, v := range c {
		idx += v * m.strides[i+1]
	}
	return idx
}
