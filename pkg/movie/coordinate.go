package movie

import (
	"iter"
	"strconv"
	"strings"
)

// Coordinate is a pixel position with one component per spatial dimension.
// The time axis is never part of a Coordinate.
type Coordinate []int

// Add returns c + offset. Both must have the same length.
func (c Coordinate) Add(offset []int) Coordinate {
	out := make(Coordinate, len(c))
	for i := range c {
		out[i] = c[i] + offset[i]
	}
	return out
}

// Sub returns c - offset. Both must have the same length.
func (c Coordinate) Sub(offset []int) Coordinate {
	out := make(Coordinate, len(c))
	for i := range c {
		out[i] = c[i] - offset[i]
	}
	return out
}

// Equal reports whether both coordinates have the same components.
func (c Coordinate) Equal(other Coordinate) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// String formats the coordinate like a tuple, e.g. (3, 4).
func (c Coordinate) String() string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.Itoa(v)
	}
	if len(c) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// RowMajorIndex returns the linear index of c inside a grid of the given shape,
// with the last axis varying fastest. The caller guarantees c lies in the grid.
func RowMajorIndex(shape []int, c Coordinate) int {
	idx := 0
	for i, extent := range shape {
		idx = idx*extent + c[i]
	}
	return idx
}

// CoordinateAt is the inverse of RowMajorIndex.
func CoordinateAt(shape []int, idx int) Coordinate {
	c := make(Coordinate, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		c[i] = idx % shape[i]
		idx /= shape[i]
	}
	return c
}

// GeneratePixels yields every coordinate of a grid with the given shape in
// row-major order. The sequence can be ranged over any number of times.
func GeneratePixels(shape []int) iter.Seq[Coordinate] {
	return func(yield func(Coordinate) bool) {
		n := product(shape)
		for idx := 0; idx < n; idx++ {
			if !yield(CoordinateAt(shape, idx)) {
				return
			}
		}
	}
}

func product(values []int) int {
	p := 1
	for _, v := range values {
		p *= v
	}
	return p
}
