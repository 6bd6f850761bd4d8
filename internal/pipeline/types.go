package pipeline

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calibrate"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/golang/geo/r2"
	"github.com/samber/lo"
)

// Policy decides how per-image detection failures affect calibration.
type Policy string

const (
	// PolicyStrict aborts when any loaded image fails detection.
	PolicyStrict Policy = "strict"
	// PolicyTolerant calibrates from the usable images while at least the
	// solver's minimum view count remains.
	PolicyTolerant Policy = "tolerant"
)

// ParsePolicy accepts "strict" or "tolerant", case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyStrict, PolicyTolerant:
		return p, nil
	case "":
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown detection policy %q (want strict or tolerant)", s)
	}
}

// Input is one image handed to the pipeline. Err marks an image that could
// not be loaded; it is recorded like a failed detection.
type Input struct {
	Index int
	Path  string
	Image image.Image
	Err   error
}

// Verification holds the outputs of the post-calibration check on the
// reference image.
type Verification struct {
	ImageID int          `json:"image_id" yaml:"image_id"`
	Path    string       `json:"path,omitempty" yaml:"path,omitempty"`
	Pose    camera.Pose  `json:"pose" yaml:"pose"`
	Inliers int          `json:"inliers" yaml:"inliers"`
	RMS     float64      `json:"rms" yaml:"rms"`
	Origin  r2.Point     `json:"origin" yaml:"origin"`
	Axes    [3]r2.Point  `json:"axes" yaml:"axes"`
	Images  VerifyImages `json:"-" yaml:"-"`
}

// VerifyImages are the rendered verification images.
type VerifyImages struct {
	Corners     image.Image // detected grid drawn on the reference image
	Axes        image.Image // projected board axes
	Undistorted image.Image
	Preview     image.Image // half-size axes overlay; nil when the image is small
}

// Result is the outcome of a calibration run.
type Result struct {
	Board        board.Spec          `json:"board" yaml:"board"`
	Policy       Policy              `json:"policy" yaml:"policy"`
	Observations []board.Observation `json:"observations" yaml:"observations"`
	Failures     []string            `json:"failures,omitempty" yaml:"failures,omitempty"`
	Warnings     []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Usable       int                 `json:"usable" yaml:"usable"`
	ImageWidth   int                 `json:"image_width" yaml:"image_width"`
	ImageHeight  int                 `json:"image_height" yaml:"image_height"`
	// Coverage is the image fraction covered by the union of all detections.
	Coverage     float64                  `json:"coverage" yaml:"coverage"`
	Calibration  *calibrate.Result        `json:"calibration,omitempty" yaml:"calibration,omitempty"`
	Verification *Verification            `json:"verification,omitempty" yaml:"verification,omitempty"`
	State        State                    `json:"state" yaml:"state"`
	Timings      map[string]time.Duration `json:"timings_ns" yaml:"timings_ns"`
}

// UsableObservations returns the observations that may enter the solver.
func (r *Result) UsableObservations() []board.Observation {
	return lo.Filter(r.Observations, func(o board.Observation, _ int) bool {
		return o.Usable(r.Board)
	})
}
