package camera

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// modelFile is the on-disk layout of a calibrated model.
type modelFile struct {
	Model      Model   `json:"camera" yaml:"camera"`
	RMS        float64 `json:"rms,omitempty" yaml:"rms,omitempty"`
	ImageCount int     `json:"image_count,omitempty" yaml:"image_count,omitempty"`
}

// SaveModel writes the model as YAML or JSON depending on the extension.
func SaveModel(path string, m Model, rms float64, images int) error {
	f := modelFile{Model: m, RMS: rms, ImageCount: images}

	var data []byte
	var err error
	if isJSON(path) {
		data, err = json.MarshalIndent(f, "", "  ")
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadModel reads a model written by SaveModel and validates it.
func LoadModel(path string) (Model, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided model path is expected
	if err != nil {
		return Model{}, fmt.Errorf("read model: %w", err)
	}
	m, err := DecodeModel(data)
	if err != nil {
		return Model{}, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// DecodeModel parses a model file body. JSON is read by the YAML decoder.
func DecodeModel(data []byte) (Model, error) {
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Model{}, fmt.Errorf("decode model: %w", err)
	}
	if err := f.Model.CheckValid(); err != nil {
		return Model{}, err
	}
	return f.Model, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
