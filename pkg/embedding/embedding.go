// Package embedding computes the pixel-similarity features that the
// segmentation solver uses to decide which pixels of a patch form a cell.
package embedding

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"hnccorr/pkg/movie"
)

// CorrelationEmbedding holds the pairwise Pearson correlation between the
// intensity traces of every pair of pixels in a patch.
//
// Row and column i correspond to the i-th pixel of the patch in row-major
// order. The correlation with a constant trace is undefined and stored as NaN;
// use Finite for a copy with those entries replaced by zero.
type CorrelationEmbedding struct {
	patch     *movie.Patch
	embedding *mat.SymDense
}

// New computes the embedding of a patch.
func New(p *movie.Patch) *CorrelationEmbedding {
	return &CorrelationEmbedding{
		patch:     p,
		embedding: CorrelationMatrix(p.Traces()),
	}
}

// CorrelationMatrix returns the correlation between the columns of traces,
// which holds one observation (frame) per row.
//
// Every entry involving a constant column is NaN, including its diagonal.
// The diagonal of every other column is exactly 1 and off-diagonal values are
// clamped to [-1, 1].
func CorrelationMatrix(traces mat.Matrix) *mat.SymDense {
	frames, n := traces.Dims()
	corr := mat.NewSymDense(n, nil)

	constant := make([]bool, n)
	for j := 0; j < n; j++ {
		constant[j] = isConstant(mat.Col(nil, j, traces))
	}

	if frames > 1 {
		stat.CorrelationMatrix(corr, traces, nil)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			switch {
			case constant[i] || constant[j] || frames < 2:
				corr.SetSym(i, j, math.NaN())
			case i == j:
				corr.SetSym(i, j, 1)
			default:
				corr.SetSym(i, j, clamp(corr.At(i, j)))
			}
		}
	}
	return corr
}

// Correlation returns the Pearson correlation of two traces of equal length,
// or NaN if either trace is constant.
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || isConstant(x) || isConstant(y) {
		return math.NaN()
	}
	return clamp(stat.Correlation(x, y, nil))
}

// Patch returns the patch the embedding was computed from.
func (e *CorrelationEmbedding) Patch() *movie.Patch { return e.patch }

// Matrix returns the NumPixels x NumPixels similarity matrix.
func (e *CorrelationEmbedding) Matrix() mat.Symmetric { return e.embedding }

// At returns the similarity between the pixels with enumeration indices i and j.
func (e *CorrelationEmbedding) At(i, j int) float64 { return e.embedding.At(i, j) }

// Vector returns the similarity of a pixel to every pixel of the patch. The
// pixel is addressed in patch coordinates.
func (e *CorrelationEmbedding) Vector(patchCoordinate movie.Coordinate) ([]float64, error) {
	idx, err := e.patch.PixelIndex(patchCoordinate)
	if err != nil {
		return nil, err
	}
	return mat.Row(nil, idx, e.embedding), nil
}

// Finite returns a copy of the matrix in which undefined entries are zero.
func (e *CorrelationEmbedding) Finite() *mat.SymDense {
	n := e.embedding.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := e.embedding.At(i, j)
			if math.IsNaN(v) {
				v = 0
			}
			out.SetSym(i, j, v)
		}
	}
	return out
}

// ExponentialDistanceDecay weighs every row of candidates by
// exp(-alpha * ||reference - row||^2). Identical vectors have weight 1.
func ExponentialDistanceDecay(reference []float64, candidates mat.Matrix, alpha float64) ([]float64, error) {
	rows, cols := candidates.Dims()
	if cols != len(reference) {
		return nil, fmt.Errorf("reference has %d components, candidates have %d: %w",
			len(reference), cols, movie.ErrDimensionMismatch)
	}

	weights := make([]float64, rows)
	row := make([]float64, cols)
	for i := range weights {
		mat.Row(row, i, candidates)
		d := floats.Distance(reference, row, 2)
		if d == 0 {
			weights[i] = 1
			continue
		}
		weights[i] = math.Exp(-alpha * d * d)
	}
	return weights, nil
}

func isConstant(values []float64) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
