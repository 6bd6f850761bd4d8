package batch

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calibrate"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Report is the serializable summary of a calibration run.
type Report struct {
	Board        board.Spec          `json:"board" yaml:"board"`
	State        string              `json:"state" yaml:"state"`
	Policy       string              `json:"policy" yaml:"policy"`
	ImageWidth   int                 `json:"image_width" yaml:"image_width"`
	ImageHeight  int                 `json:"image_height" yaml:"image_height"`
	Images       int                 `json:"images" yaml:"images"`
	Usable       int                 `json:"usable" yaml:"usable"`
	Coverage     float64             `json:"coverage" yaml:"coverage"`
	Camera       *CameraReport       `json:"camera,omitempty" yaml:"camera,omitempty"`
	Views        []ViewReport        `json:"views,omitempty" yaml:"views,omitempty"`
	Verification *VerificationReport `json:"verification,omitempty" yaml:"verification,omitempty"`
	Failures     []string            `json:"failures,omitempty" yaml:"failures,omitempty"`
	Warnings     []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Timings      map[string]string   `json:"timings,omitempty" yaml:"timings,omitempty"`
	Error        string              `json:"error,omitempty" yaml:"error,omitempty"`
}

// CameraReport describes the calibrated model and the solve.
type CameraReport struct {
	Matrix     [3][3]float64        `json:"camera_matrix" yaml:"camera_matrix"`
	Distortion []float64            `json:"distortion" yaml:"distortion"`
	Model      camera.Model         `json:"model" yaml:"model"`
	RMS        float64              `json:"rms" yaml:"rms"`
	InitialRMS float64              `json:"initial_rms" yaml:"initial_rms"`
	Errors     calibrate.ErrorStats `json:"errors" yaml:"errors"`
	Iterations int                  `json:"iterations" yaml:"iterations"`
	Converged  bool                 `json:"converged" yaml:"converged"`
	Condition  float64              `json:"condition" yaml:"condition"`
	Init       string               `json:"init" yaml:"init"`
}

// ViewReport holds the extrinsics and errors of one calibration image.
type ViewReport struct {
	ImageID              int        `json:"image_id" yaml:"image_id"`
	Path                 string     `json:"path,omitempty" yaml:"path,omitempty"`
	Rvec                 [3]float64 `json:"rvec" yaml:"rvec,flow"`
	Tvec                 [3]float64 `json:"tvec" yaml:"tvec,flow"`
	Points               int        `json:"points" yaml:"points"`
	calibrate.ErrorStats `yaml:",inline"`
}

// VerificationReport holds the pose recovered for the reference image.
type VerificationReport struct {
	ImageID int        `json:"image_id" yaml:"image_id"`
	Path    string     `json:"path,omitempty" yaml:"path,omitempty"`
	Rvec    [3]float64 `json:"rvec" yaml:"rvec,flow"`
	Tvec    [3]float64 `json:"tvec" yaml:"tvec,flow"`
	Inliers int        `json:"inliers" yaml:"inliers"`
	RMS     float64    `json:"rms" yaml:"rms"`
}

func vec(v r3.Vector) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// NewReport summarizes a pipeline result; runErr, when set, is recorded as
// the run error.
func NewReport(res *pipeline.Result, runErr error) *Report {
	rep := &Report{}
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	if res == nil {
		return rep
	}
	rep.Board = res.Board
	rep.State = res.State.String()
	rep.Policy = string(res.Policy)
	rep.ImageWidth, rep.ImageHeight = res.ImageWidth, res.ImageHeight
	rep.Images = len(res.Observations)
	rep.Usable = res.Usable
	rep.Coverage = res.Coverage
	rep.Failures = res.Failures
	rep.Warnings = res.Warnings
	if len(res.Timings) > 0 {
		rep.Timings = lo.MapValues(res.Timings, func(d time.Duration, _ string) string {
			return d.Round(time.Microsecond).String()
		})
	}

	if cal := res.Calibration; cal != nil {
		k := cal.Model.Intrinsics.Matrix()
		rep.Camera = &CameraReport{
			Matrix: [3][3]float64{
				{k.At(0, 0), k.At(0, 1), k.At(0, 2)},
				{k.At(1, 0), k.At(1, 1), k.At(1, 2)},
				{k.At(2, 0), k.At(2, 1), k.At(2, 2)},
			},
			Distortion: cal.Model.Distortion.Coefficients(cal.Model.Distortion.IsRational()),
			Model:      cal.Model,
			RMS:        cal.RMS,
			InitialRMS: cal.InitialRMS,
			Errors:     cal.Errors,
			Iterations: cal.Iterations,
			Converged:  cal.Converged,
			Condition:  cal.Condition,
			Init:       cal.Init,
		}
		usable := res.UsableObservations()
		for i, p := range cal.Poses {
			v := ViewReport{Rvec: vec(p.Rotation), Tvec: vec(p.Translation)}
			if i < len(usable) {
				v.ImageID, v.Path = usable[i].ImageID, usable[i].Path
			}
			if i < len(cal.PerView) {
				v.Points = cal.PerView[i].Points
				v.ErrorStats = cal.PerView[i].ErrorStats
			}
			rep.Views = append(rep.Views, v)
		}
	}
	if ver := res.Verification; ver != nil {
		rep.Verification = &VerificationReport{
			ImageID: ver.ImageID,
			Path:    ver.Path,
			Rvec:    vec(ver.Pose.Rotation),
			Tvec:    vec(ver.Pose.Translation),
			Inliers: ver.Inliers,
			RMS:     ver.RMS,
		}
	}
	return rep
}

// IsSupportedFormat reports whether FormatReport understands format.
func IsSupportedFormat(format string) bool {
	switch format {
	case "", "text", "json", "yaml":
		return true
	}
	return false
}

// FormatReport renders the report as text, json or yaml. lang selects the
// number formatting of the text report.
func FormatReport(rep *Report, format, lang string) (string, error) {
	switch format {
	case "json":
		b, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode json report: %w", err)
		}
		return string(b) + "\n", nil
	case "yaml":
		b, err := yaml.Marshal(rep)
		if err != nil {
			return "", fmt.Errorf("encode yaml report: %w", err)
		}
		return string(b), nil
	case "", "text":
		return formatText(rep, lang), nil
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

func formatText(rep *Report, lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	var b strings.Builder
	printf := func(format string, args ...any) { _, _ = p.Fprintf(&b, format, args...) }

	printf("Board: %d x %d inner corners, square size %g\n", rep.Board.Rows, rep.Board.Cols, rep.Board.SquareSize)
	printf("Images: %d loaded, %d usable", rep.Images, rep.Usable)
	if rep.ImageWidth > 0 {
		printf(", %d x %d px, coverage %.1f%%", rep.ImageWidth, rep.ImageHeight, 100*rep.Coverage)
	}
	printf("\nState: %s (policy %s)\n", rep.State, rep.Policy)
	if rep.Error != "" {
		printf("Error: %s\n", rep.Error)
	}

	if c := rep.Camera; c != nil {
		printf("\nCamera matrix:\n")
		for _, row := range c.Matrix {
			printf("  [ %12.4f %12.4f %12.4f ]\n", row[0], row[1], row[2])
		}
		names := "k1 k2 p1 p2 k3"
		if len(c.Distortion) > 5 {
			names += " k4 k5 k6"
		}
		printf("Distortion (%s):\n  ", names)
		for _, d := range c.Distortion {
			printf(" %.6f", d)
		}
		printf("\nReprojection error: rms %.4f px (initial %.4f), mean %.4f, median %.4f, p95 %.4f, max %.4f\n",
			c.RMS, c.InitialRMS, c.Errors.Mean, c.Errors.Median, c.Errors.P95, c.Errors.Max)
		status := "converged"
		if !c.Converged {
			status = "not converged"
		}
		printf("Solver: %d iterations, %s, condition %.3g, initialization %s\n", c.Iterations, status, c.Condition, c.Init)
	}

	if len(rep.Views) > 0 {
		printf("\nExtrinsics:\n")
		for _, v := range rep.Views {
			printf("  image %3d  rvec [%9.5f %9.5f %9.5f]  tvec [%10.3f %10.3f %10.3f]  rms %.4f px\n",
				v.ImageID, v.Rvec[0], v.Rvec[1], v.Rvec[2], v.Tvec[0], v.Tvec[1], v.Tvec[2], v.RMS)
		}
	}

	if v := rep.Verification; v != nil {
		printf("\nVerification (image %d): %d inliers, rms %.4f px\n", v.ImageID, v.Inliers, v.RMS)
		printf("  rvec [%9.5f %9.5f %9.5f]  tvec [%10.3f %10.3f %10.3f]\n",
			v.Rvec[0], v.Rvec[1], v.Rvec[2], v.Tvec[0], v.Tvec[1], v.Tvec[2])
	}

	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		printf("\n%s (%d):\n", title, len(items))
		for _, it := range items {
			printf("  - %s\n", it)
		}
	}
	writeList("Failures", rep.Failures)
	writeList("Warnings", rep.Warnings)

	if len(rep.Timings) > 0 {
		keys := lo.Keys(rep.Timings)
		slices.Sort(keys)
		parts := lo.Map(keys, func(k string, _ int) string { return k + "=" + rep.Timings[k] })
		printf("\nTimings: %s\n", strings.Join(parts, " "))
	}
	return b.String()
}
