package movie

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"
)

// ListImages returns the .tiff and .tif files in dir sorted by name. Frame
// numbers in file names must be zero padded so that name order is frame order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".tiff" || ext == ".tif" {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(images)
	return images, nil
}

// LoadTIFFImages loads a directory of 16-bit TIFF frames into a movie of shape
// (T, height, width). The directory must hold exactly numImages frames.
//
// If memmap is true the frames are streamed into <imageDir>/<name>.npy and the
// movie is backed by a memory mapping of that file instead of process memory.
// The caller should Close the returned movie in that case.
func LoadTIFFImages(name, imageDir string, numImages int, memmap bool) (*Movie, error) {
	images, err := ListImages(imageDir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no TIFF images found in %s", imageDir)
	}
	if len(images) != numImages {
		return nil, fmt.Errorf("expected %d images in %s, found %d: %w",
			numImages, imageDir, len(images), ErrDimensionMismatch)
	}

	first, err := readFrame(images[0])
	if err != nil {
		return nil, err
	}
	bounds := first.Bounds()
	dataSize := []int{len(images), bounds.Dy(), bounds.Dx()}

	frame := func(t int) ([]uint16, error) {
		img := first
		if t > 0 {
			if img, err = readFrame(images[t]); err != nil {
				return nil, err
			}
		}
		if img.Bounds().Dx() != dataSize[2] || img.Bounds().Dy() != dataSize[1] {
			return nil, fmt.Errorf("image %s is %dx%d, expected %dx%d: %w", images[t],
				img.Bounds().Dx(), img.Bounds().Dy(), dataSize[2], dataSize[1], ErrDimensionMismatch)
		}
		return grayValues(img), nil
	}

	if memmap {
		path := filepath.Join(imageDir, name+".npy")
		if err := WriteNPY(path, dataSize, frame); err != nil {
			os.Remove(path)
			return nil, err
		}
		return OpenNPY(name, path)
	}

	frameLen := dataSize[1] * dataSize[2]
	data := make(Uint16Storage, len(images)*frameLen)
	for t := range images {
		values, err := frame(t)
		if err != nil {
			return nil, err
		}
		copy(data[t*frameLen:], values)
	}
	return New(name, dataSize, data)
}

func readFrame(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, err := tiff.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// grayValues flattens an image into row-major 16-bit intensities.
func grayValues(img image.Image) []uint16 {
	bounds := img.Bounds()
	values := make([]uint16, 0, bounds.Dx()*bounds.Dy())

	if gray, ok := img.(*image.Gray16); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				values = append(values, gray.Gray16At(x, y).Y)
			}
		}
		return values
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			values = append(values, color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
		}
	}
	return values
}
