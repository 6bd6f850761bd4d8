package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// frontal maps board X (rows) to image down, board Y (cols) to image right
// and the board normal towards the camera.
var frontal = camera.Mat3{0, 1, 0, 1, 0, 0, 0, 0, -1}

// DefaultModel returns the camera used for generated datasets.
func DefaultModel() camera.Model {
	return camera.Model{
		Intrinsics: camera.Intrinsics{Width: 640, Height: 480, Fx: 800, Fy: 800, Cx: 322.5, Cy: 238.5},
		Distortion: camera.Distortion{K1: -0.12, K2: 0.08, P1: 0.0008, P2: -0.0006},
	}
}

// SceneConfig controls how view poses are drawn.
type SceneConfig struct {
	MaxTilt  float64 // largest rotation about the image axes in radians
	MaxRoll  float64 // largest rotation about the optical axis in radians
	Fill     float64 // fraction of the image width covered by a frontal board
	Border   float64 // minimum distance in pixels between any corner and the image edge
	Seed     uint64
	MaxTries int
}

// DefaultSceneConfig returns a varied but fully visible set of views.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		MaxTilt:  0.45,
		MaxRoll:  0.25,
		Fill:     0.55,
		Border:   24,
		Seed:     1,
		MaxTries: 50,
	}
}

// Poses draws n poses that keep the whole board, including its paper
// margin, inside the image of model.
func Poses(spec board.Spec, model camera.Model, n int, cfg SceneConfig) ([]camera.Pose, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	in := model.Intrinsics
	center := r3.Vector{
		X: float64(spec.Rows-1) * spec.SquareSize / 2,
		Y: float64(spec.Cols-1) * spec.SquareSize / 2,
	}
	width := float64(spec.Cols+1) * spec.SquareSize
	baseZ := in.Fx * width / (cfg.Fill * float64(in.Width))
	outline := paperOutline(spec)

	poses := make([]camera.Pose, 0, n)
	for i := range n {
		found := false
		for range max(cfg.MaxTries, 1) {
			// alternate the dominant tilt axis so consecutive views are
			// never parallel
			tx := cfg.MaxTilt * (0.4 + 0.6*rng.Float64())
			ty := cfg.MaxTilt * (rng.Float64()*2 - 1) * 0.6
			if i%2 == 1 {
				tx, ty = ty, tx
			}
			if rng.IntN(2) == 0 {
				tx = -tx
			}
			if rng.IntN(2) == 0 {
				ty = -ty
			}
			roll := cfg.MaxRoll * (rng.Float64()*2 - 1)
			r := camera.RotationMatrix(r3.Vector{X: tx, Y: ty, Z: roll}).Mul(frontal)

			z := baseZ * (0.95 + 0.3*rng.Float64())
			target := r3.Vector{
				X: (rng.Float64()*2 - 1) * 0.12 * float64(in.Width) * z / in.Fx,
				Y: (rng.Float64()*2 - 1) * 0.12 * float64(in.Height) * z / in.Fy,
				Z: z,
			}
			t := target.Sub(r.MulVec(center))
			pose := camera.Pose{Rotation: camera.AxisAngle(r), Translation: t}
			if visible(model, pose, outline, cfg.Border) {
				poses = append(poses, pose)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("could not place view %d of %s inside %dx%d image", i, spec, in.Width, in.Height)
		}
	}
	return poses, nil
}

// paperOutline returns the four corners of the printed area including
// the margin.
func paperOutline(spec board.Spec) []r3.Vector {
	s := spec.SquareSize
	m := DefaultRenderOptions().Margin * s
	loX, hiX := -s-m, float64(spec.Rows)*s+m
	loY, hiY := -s-m, float64(spec.Cols)*s+m
	return []r3.Vector{{X: loX, Y: loY}, {X: hiX, Y: loY}, {X: hiX, Y: hiY}, {X: loX, Y: hiY}}
}

func visible(model camera.Model, pose camera.Pose, pts []r3.Vector, border float64) bool {
	w, h := float64(model.Intrinsics.Width), float64(model.Intrinsics.Height)
	for _, p := range pts {
		pc := pose.Transform(p)
		if pc.Z <= 0 {
			return false
		}
		px, ok := model.ProjectPoint(pc)
		if !ok || px.X < border || px.Y < border || px.X > w-1-border || px.Y > h-1-border {
			return false
		}
	}
	return true
}

// GroundTruth projects the board corners for each pose.
func GroundTruth(spec board.Spec, model camera.Model, poses []camera.Pose) [][]r2.Point {
	obj := spec.ObjectPoints()
	out := make([][]r2.Point, len(poses))
	for i, p := range poses {
		out[i] = model.Project(obj, p)
	}
	return out
}

// ViewAngle returns the angle in radians between the board normal and the
// optical axis for pose.
func ViewAngle(pose camera.Pose) float64 {
	n := pose.Matrix().MulVec(r3.Vector{Z: 1})
	return math.Acos(math.Min(1, math.Abs(n.Z)))
}

// FrontalPose places the board centered in front of the camera at the
// given distance, facing it squarely. Rows run down the image and columns
// to the right.
func FrontalPose(spec board.Spec, distance float64) camera.Pose {
	center := r3.Vector{
		X: float64(spec.Rows-1) * spec.SquareSize / 2,
		Y: float64(spec.Cols-1) * spec.SquareSize / 2,
	}
	t := r3.Vector{Z: distance}.Sub(frontal.MulVec(center))
	return camera.Pose{Rotation: camera.AxisAngle(frontal), Translation: t}
}
