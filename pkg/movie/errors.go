package movie

import "errors"

var (
	// ErrInvalidConfiguration is returned when a size, fraction or padding
	// parameter is outside its valid range.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrOutOfBounds is returned by direct indexed access outside a Movie or
	// Patch. The validity predicates never return it.
	ErrOutOfBounds = errors.New("index out of bounds")

	// ErrDimensionMismatch is returned when vectors, coordinates or shapes do
	// not have matching dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
