package utils

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// LoadImage opens and decodes an image file, returning the image and metadata.
// A missing file yields an error matching fs.ErrNotExist.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		err := &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
		return nil, ImageMetadata{}, err
	}

	f, err := os.Open(path) //nolint:gosec // G304: Reading user-provided image file path is expected
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing image file: %v\n", err)
		}
	}()

	fi, statErr := f.Stat()
	if statErr != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: statErr}
	}

	img, format, decErr := image.Decode(f)
	if decErr != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: decErr}
	}

	b := img.Bounds()
	meta := ImageMetadata{
		Path:      path,
		Format:    format,
		SizeBytes: fi.Size(),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
	return img, meta, nil
}

// DecodeImage decodes an image from a stream such as an HTTP upload.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, &ImageProcessingError{Operation: "decode", Err: err}
	}
	return img, nil
}

// SaveImage writes img to path, creating the parent directory. The format
// follows the extension.
func SaveImage(path string, img image.Image) error {
	if img == nil {
		return &ImageProcessingError{Operation: "save", Err: errors.New("input image is nil")}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &ImageProcessingError{Operation: "save", Err: err}
		}
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		return &ImageProcessingError{Operation: "save", Err: err}
	}
	return nil
}

// EncodePNG writes img to w as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return &ImageProcessingError{Operation: "encode", Err: err}
	}
	return nil
}

// EncodeJPEG writes img to w as JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return &ImageProcessingError{Operation: "encode", Err: err}
	}
	return nil
}

// ValidateImageConstraints checks dimensions against the provided constraints.
func ValidateImageConstraints(img image.Image, constraints ImageConstraints) error {
	if img == nil {
		return &ImageProcessingError{Operation: "validate", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < constraints.MinWidth || h < constraints.MinHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err: fmt.Errorf(
				"image too small: %dx%d < %dx%d",
				w, h, constraints.MinWidth, constraints.MinHeight,
			),
		}
	}
	return nil
}
