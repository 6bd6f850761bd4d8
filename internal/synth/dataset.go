package synth

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/golang/geo/r2"
	"gopkg.in/yaml.v3"
)

// GroundTruthFile is the name of the metadata file written next to the
// rendered images.
const GroundTruthFile = "ground_truth.yaml"

// Dataset is a set of rendered views with their true poses and corners.
type Dataset struct {
	Board   board.Spec    `yaml:"board"`
	Camera  camera.Model  `yaml:"camera"`
	Poses   []camera.Pose `yaml:"poses"`
	Corners [][]r2.Point  `yaml:"-"`
	Images  []*image.Gray `yaml:"-"`
	Files   []string      `yaml:"files,omitempty"`
	Options RenderOptions `yaml:"-"`
}

// Generate renders n views of spec through model.
func Generate(spec board.Spec, model camera.Model, n int, scene SceneConfig, opts RenderOptions) (*Dataset, error) {
	if err := model.CheckValid(); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	poses, err := Poses(spec, model, n, scene)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	r := NewRenderer(model)
	ds := &Dataset{
		Board:   spec,
		Camera:  model,
		Poses:   poses,
		Corners: GroundTruth(spec, model, poses),
		Images:  make([]*image.Gray, len(poses)),
		Options: opts,
	}
	for i, p := range poses {
		o := opts
		o.Seed = opts.Seed + uint64(i)
		ds.Images[i] = r.Render(spec, p, o)
	}
	return ds, nil
}

// Write saves the images as <dir>/<i><ext> and the ground truth metadata.
func (ds *Dataset) Write(dir, ext string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	ds.Files = ds.Files[:0]
	for i, img := range ds.Images {
		name := fmt.Sprintf("%d%s", i, ext)
		if err := utils.SaveImage(filepath.Join(dir, name), img); err != nil {
			return fmt.Errorf("write view %d: %w", i, err)
		}
		ds.Files = append(ds.Files, name)
	}
	data, err := yaml.Marshal(ds)
	if err != nil {
		return fmt.Errorf("encode ground truth: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, GroundTruthFile), data, 0o600); err != nil {
		return fmt.Errorf("write ground truth: %w", err)
	}
	slog.Info("Dataset written", "dir", dir, "views", len(ds.Images), "board", ds.Board.String())
	return nil
}

// ReadGroundTruth loads the metadata written by Write. Corners are
// recomputed from the stored poses.
func ReadGroundTruth(dir string) (*Dataset, error) {
	data, err := os.ReadFile(filepath.Join(dir, GroundTruthFile)) //nolint:gosec // G304: dataset dir is user supplied
	if err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode ground truth: %w", err)
	}
	ds.Corners = GroundTruth(ds.Board, ds.Camera, ds.Poses)
	return &ds, nil
}
