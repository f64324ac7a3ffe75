package rimage

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// WriteImageToFile encodes img as PNG into path, creating or truncating the file.
func WriteImageToFile(path string, img image.Image) (err error) {
	//nolint:gosec
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if err := png.Encode(f, img); err != nil {
		return errors.Wrapf(err, "cannot encode %s", path)
	}
	return nil
}
