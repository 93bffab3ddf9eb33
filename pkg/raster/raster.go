// Package raster inspects rendered image outputs: format and pixel
// dimensions, read from the image header without decoding pixel data.
package raster

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/matzehuels/convoy/pkg/errors"
)

// Info describes one image file.
type Info struct {
	Path   string
	Format string
	Width  int
	Height int
}

// Inspect reads the header of the image at path.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, errors.Wrap(errors.ErrCodeFilesystem, err, "open %s", path)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Info{}, errors.Wrap(errors.ErrCodeValidationFailed, err, "decode %s", filepath.Base(path))
	}
	return Info{Path: path, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Check verifies that path is a decodable image with non-zero dimensions.
func Check(path string) error {
	info, err := Inspect(path)
	if err != nil {
		return err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return errors.New(errors.ErrCodeValidationFailed, "%s has empty dimensions %dx%d",
			filepath.Base(path), info.Width, info.Height)
	}
	return nil
}
