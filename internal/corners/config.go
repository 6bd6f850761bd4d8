package corners

import (
	"errors"
	"fmt"
)

// DetectorConfig holds the tunables of the checkerboard corner detector.
type DetectorConfig struct {
	BlurSigma         float64 // Gaussian prefilter sigma in pixels (default: 1.5)
	ResponseThreshold float64 // Saddle response threshold relative to the image maximum (default: 0.02)
	NMSWindow         int     // Half size of the non-maximum suppression window (default: 4)
	RingRadius        float64 // Radius of the X-corner sampling circle (default: 5)
	MinContrast       float64 // Minimum intensity range on the sampling circle (default: 30)
	GrowTolerance     float64 // Snap radius as a fraction of the local grid step (default: 0.35)
	MaxSeeds          int     // Number of seed corners tried before giving up (default: 8)
}

// DefaultDetectorConfig returns the default detector configuration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		BlurSigma:         1.5,
		ResponseThreshold: 0.02,
		NMSWindow:         4,
		RingRadius:        5,
		MinContrast:       30,
		GrowTolerance:     0.35,
		MaxSeeds:          8,
	}
}

// Validate checks the configuration values.
func (c DetectorConfig) Validate() error {
	var errs []error
	if c.BlurSigma < 0 {
		errs = append(errs, fmt.Errorf("blur sigma must be >= 0, got %g", c.BlurSigma))
	}
	if c.ResponseThreshold <= 0 || c.ResponseThreshold >= 1 {
		errs = append(errs, fmt.Errorf("response threshold must be in (0,1), got %g", c.ResponseThreshold))
	}
	if c.NMSWindow < 1 {
		errs = append(errs, fmt.Errorf("nms window must be >= 1, got %d", c.NMSWindow))
	}
	if c.RingRadius < 2 {
		errs = append(errs, fmt.Errorf("ring radius must be >= 2, got %g", c.RingRadius))
	}
	if c.MinContrast < 0 {
		errs = append(errs, fmt.Errorf("min contrast must be >= 0, got %g", c.MinContrast))
	}
	if c.GrowTolerance <= 0 || c.GrowTolerance >= 0.5 {
		errs = append(errs, fmt.Errorf("grow tolerance must be in (0,0.5), got %g", c.GrowTolerance))
	}
	if c.MaxSeeds < 1 {
		errs = append(errs, errors.New("max seeds must be >= 1"))
	}
	return errors.Join(errs...)
}

// RefinerConfig holds the sub-pixel refinement window and termination
// criteria. Iteration stops when either MaxIterations is reached or the
// position changes by at most Epsilon.
type RefinerConfig struct {
	HalfWindow    int     // Half side of the search window (default: 10, i.e. 21x21 pixels)
	MaxIterations int     // Iteration cap per corner (default: 30)
	Epsilon       float64 // Minimum position change in pixels (default: 0.001)
	GradientSigma float64 // Gaussian smoothing applied before differentiation (default: 1, 0 disables)
}

// DefaultRefinerConfig returns the default refiner configuration.
func DefaultRefinerConfig() RefinerConfig {
	return RefinerConfig{
		HalfWindow:    10,
		MaxIterations: 30,
		Epsilon:       0.001,
		GradientSigma: 1,
	}
}

// Validate checks the configuration values.
func (c RefinerConfig) Validate() error {
	var errs []error
	if c.HalfWindow < 1 {
		errs = append(errs, fmt.Errorf("half window must be >= 1, got %d", c.HalfWindow))
	}
	if c.GradientSigma < 0 {
		errs = append(errs, fmt.Errorf("gradient sigma must be >= 0, got %g", c.GradientSigma))
	}
	if c.MaxIterations < 1 && c.Epsilon <= 0 {
		errs = append(errs, errors.New("either max iterations or epsilon must be positive"))
	}
	return errors.Join(errs...)
}
