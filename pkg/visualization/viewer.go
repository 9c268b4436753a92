package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"hnccorr/pkg/movie"
	"hnccorr/pkg/seeder"
	"hnccorr/pkg/segmentation"
)

// Viewer renders frames, seed scores and detected cells of a 2-D movie.
// Intensities are scaled by the minimum and maximum of the whole movie so
// frames are comparable.
type Viewer struct {
	movie *movie.Movie

	// height and width are the row and column extents
	height int
	width  int

	// intensity range of the movie
	low  float64
	high float64
}

// NewViewer creates a viewer. Only movies with two spatial dimensions can be
// rendered.
func NewViewer(m *movie.Movie) (*Viewer, error) {
	if m.NumDimensions() != 2 {
		return nil, fmt.Errorf("viewer needs a 2-D movie, got %d dimensions: %w",
			m.NumDimensions(), movie.ErrDimensionMismatch)
	}
	shape := m.PixelShape()
	v := &Viewer{
		movie:  m,
		height: shape[0],
		width:  shape[1],
		low:    math.Inf(1),
		high:   math.Inf(-1),
	}

	for t := 0; t < m.NumFrames(); t++ {
		frame, err := m.Frame(t)
		if err != nil {
			return nil, err
		}
		for _, value := range frame {
			v.low = math.Min(v.low, value)
			v.high = math.Max(v.high, value)
		}
	}
	return v, nil
}

// ExtractFrame renders one frame as a 16-bit grayscale image.
func (v *Viewer) ExtractFrame(t int) (*image.Gray16, error) {
	frame, err := v.movie.Frame(t)
	if err != nil {
		return nil, err
	}
	return v.grayImage(frame), nil
}

// MeanImage renders the per-pixel mean over all frames.
func (v *Viewer) MeanImage() *image.Gray16 {
	mean := make([]float64, v.width*v.height)
	for t := 0; t < v.movie.NumFrames(); t++ {
		// t is always a valid frame
		frame, _ := v.movie.Frame(t)
		for i, value := range frame {
			mean[i] += value
		}
	}
	for i := range mean {
		mean[i] /= float64(v.movie.NumFrames())
	}
	return v.grayImage(mean)
}

// ScoreMap renders the candidate scores as a heat map from blue (lowest) to
// red (highest). Pixels that are not candidates, or whose score is undefined,
// stay black.
func (v *Viewer) ScoreMap(candidates []seeder.Candidate) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, v.width, v.height))
	for y := 0; y < v.height; y++ {
		for x := 0; x < v.width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}

	low, high := math.Inf(1), math.Inf(-1)
	for _, c := range candidates {
		if !math.IsNaN(c.Score) {
			low = math.Min(low, c.Score)
			high = math.Max(high, c.Score)
		}
	}

	for _, c := range candidates {
		if math.IsNaN(c.Score) {
			continue
		}
		t := 1.0
		if high > low {
			t = (c.Score - low) / (high - low)
		}
		img.SetNRGBA(c.Coordinate[1], c.Coordinate[0], toNRGBA(colorful.Hsv(240*(1-t), 1, 1)))
	}
	return img
}

// Overlay draws every segment in its own color over the mean image.
func (v *Viewer) Overlay(segments []segmentation.Segment) *image.NRGBA {
	img := imaging.Clone(v.MeanImage())
	for i, segment := range segments {
		// golden-angle hue steps keep neighboring segment colors apart
		hue := math.Mod(float64(i)*137.508, 360)
		fill := toNRGBA(colorful.Hsv(hue, 0.8, 1))
		for _, p := range segment.Pixels {
			if v.movie.IsValidPixelCoordinate(p) {
				img.SetNRGBA(p[1], p[0], fill)
			}
		}
	}
	return img
}

// Save writes img to filename, enlarging it by an integer scale with
// nearest-neighbor sampling. The format follows the file extension.
func (v *Viewer) Save(img image.Image, filename string, scale int) error {
	if scale < 1 {
		return fmt.Errorf("scale %d should be positive: %w", scale, movie.ErrInvalidConfiguration)
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out := img
	if scale > 1 {
		b := img.Bounds()
		out = imaging.Resize(img, b.Dx()*scale, b.Dy()*scale, imaging.NearestNeighbor)
	}
	if err := imaging.Save(out, filename); err != nil {
		return fmt.Errorf("failed to save %s: %w", filename, err)
	}
	return nil
}

// SaveFrameSequence writes every frame of the movie to outputDir as PNG files.
func (v *Viewer) SaveFrameSequence(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for t := 0; t < v.movie.NumFrames(); t++ {
		img, err := v.ExtractFrame(t)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("frame_%05d.png", t))
		if err := v.Save(img, filename, 1); err != nil {
			return err
		}
	}

	return nil
}

func (v *Viewer) grayImage(values []float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, v.width, v.height))
	span := v.high - v.low
	for y := 0; y < v.height; y++ {
		for x := 0; x < v.width; x++ {
			scaled := 0.0
			if span > 0 {
				scaled = (values[y*v.width+x] - v.low) / span
			}
			value := uint16(math.Max(0, math.Min(65535, scaled*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

func toNRGBA(c colorful.Color) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}
