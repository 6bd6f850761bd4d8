package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ImageConstraints defines the constraints for calibration images.
type ImageConstraints struct {
	MinWidth      int
	MinHeight     int
	MaxPreviewDim int // previews larger than this are halved; 0 disables
}

// DefaultImageConstraints returns the default constraints.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MinWidth:      32,
		MinHeight:     32,
		MaxPreviewDim: 1600,
	}
}

// PreviewImage halves the image when either side exceeds maxDim, otherwise
// returns it unchanged. Only saved previews are scaled; calibration always
// runs on full resolution.
func PreviewImage(img image.Image, maxDim int) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "preview", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img, nil
	}
	w, h := b.Dx()/2, b.Dy()/2
	if w < 1 || h < 1 {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}
