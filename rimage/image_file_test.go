package rimage

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestWriteImageToFile(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 3, 2))
	mask.SetGray(1, 1, color.Gray{Y: 255})

	path := filepath.Join(t.TempDir(), "mask.png")
	test.That(t, WriteImageToFile(path, mask), test.ShouldBeNil)

	f, err := os.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	decoded, err := png.Decode(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds(), test.ShouldResemble, mask.Bounds())
	gray, ok := decoded.(*image.Gray)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, gray.GrayAt(1, 1).Y, test.ShouldEqual, uint8(255))
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))

	err = WriteImageToFile(filepath.Join(t.TempDir(), "missing", "mask.png"), mask)
	test.That(t, err, test.ShouldNotBeNil)
}
