package batch

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/pipeline"
	"github.com/MeKo-Tech/checkercal/internal/utils"
)

// saveArtifacts writes the model file and the verification images that the
// config asks for and returns the written paths.
func saveArtifacts(cfg *Config, res *pipeline.Result) ([]string, error) {
	var saved []string
	if cfg.ModelFile != "" {
		cal := res.Calibration
		if err := camera.SaveModel(cfg.ModelFile, cal.Model, cal.RMS, len(cal.Poses)); err != nil {
			return saved, fmt.Errorf("save model: %w", err)
		}
		slog.Info("Model saved", "file", cfg.ModelFile, "rms", cal.RMS)
		saved = append(saved, cfg.ModelFile)
	}
	if cfg.OverlayDir == "" || res.Verification == nil {
		return saved, nil
	}

	v := res.Verification
	base := fmt.Sprintf("%d", v.ImageID)
	if v.Path != "" {
		name := filepath.Base(v.Path)
		base = strings.TrimSuffix(name, filepath.Ext(name))
	}
	images := []struct {
		suffix string
		img    image.Image
	}{
		{"corners", v.Images.Corners},
		{"axes", v.Images.Axes},
		{"undistorted", v.Images.Undistorted},
		{"preview", v.Images.Preview},
	}
	for _, it := range images {
		if it.img == nil {
			continue
		}
		path := filepath.Join(cfg.OverlayDir, base+"_"+it.suffix+".png")
		if err := utils.SaveImage(path, it.img); err != nil {
			return saved, fmt.Errorf("save %s image: %w", it.suffix, err)
		}
		saved = append(saved, path)
	}
	slog.Info("Verification images saved", "dir", cfg.OverlayDir, "count", len(saved))
	return saved, nil
}
