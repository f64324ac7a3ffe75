// Package rimage holds the image types fed to plane estimation.
package rimage

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Depth is a depth reading in sensor units (usually millimeters). Zero means no reading.
type Depth uint16

// MaxDepth is the largest representable reading.
const MaxDepth = Depth(65535)

// DepthMap is a row-major grid of depth readings.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns a width x height map with no readings.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{width: width, height: height, data: make([]Depth, width*height)}
}

// Width returns the number of columns.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the map's extent as an image rectangle.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// GetDepth returns the reading at column x and row y.
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[y*dm.width+x]
}

// Set stores the reading at column x and row y.
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[y*dm.width+x] = val
}

// MinMax returns the smallest and largest non-zero readings.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min, max := MaxDepth, Depth(0)
	for _, d := range dm.data {
		if d == 0 {
			continue
		}
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	if max == 0 {
		return 0, 0
	}
	return min, max
}

// ConvertImageToDepthMap reads depth from a 16-bit grayscale image. Other images are read through
// their 16-bit gray value.
func ConvertImageToDepthMap(img image.Image) *DepthMap {
	bounds := img.Bounds()
	dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
	if gray, ok := img.(*image.Gray16); ok {
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(gray.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return dm
	}
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			c := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			dm.Set(x, y, Depth(c.Y))
		}
	}
	return dm
}

// ToGray16 converts the map to a 16-bit grayscale image.
func (dm *DepthMap) ToGray16() *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(dm.GetDepth(x, y))})
		}
	}
	return img
}

// ReadDepthMap decodes a 16-bit PNG depth image.
func ReadDepthMap(r io.Reader) (*DepthMap, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode depth png")
	}
	return ConvertImageToDepthMap(img), nil
}

// ParseDepthMap reads a 16-bit PNG depth image from fn.
func ParseDepthMap(fn string) (_ *DepthMap, err error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadDepthMap(f)
}

// WriteTo encodes the map as a 16-bit PNG.
func (dm *DepthMap) WriteTo(out io.Writer) error {
	return png.Encode(out, dm.ToGray16())
}

// ReadImageFile decodes a PNG color image from fn.
func ReadImageFile(fn string) (_ image.Image, err error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %s", fn)
	}
	return img, nil
}
