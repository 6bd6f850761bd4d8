package batch

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MeKo-Tech/checkercal/internal/board"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/MeKo-Tech/checkercal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var testBoard = board.Spec{Rows: 7, Cols: 10, SquareSize: 25}

var testDataset = sync.OnceValues(func() (*synth.Dataset, error) {
	return synth.Generate(testBoard, synth.DefaultModel(), 6, synth.DefaultSceneConfig(), synth.DefaultRenderOptions())
})

// writeDataset renders the shared dataset into a fresh directory.
func writeDataset(t *testing.T) string {
	t.Helper()
	ds, err := testDataset()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, ds.Write(dir, ".png"))
	return dir
}

func writeBlank(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, utils.SaveImage(path, image.NewGray(image.Rect(0, 0, 64, 64))))
}

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.Extension = ".png"
	cfg.Pipeline.Board = testBoard
	return &cfg
}

func TestRunWritesModelAndOverlays(t *testing.T) {
	dir := writeDataset(t)
	out := t.TempDir()
	cfg := testConfig(dir)
	cfg.ModelFile = filepath.Join(out, "camera.yaml")
	cfg.OverlayDir = filepath.Join(out, "overlays")

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Pipeline.Calibration)
	assert.Len(t, res.Pipeline.Calibration.Poses, 6)
	assert.Positive(t, res.Duration)

	model, err := camera.LoadModel(cfg.ModelFile)
	require.NoError(t, err)
	assert.Equal(t, res.Pipeline.Calibration.Model, model)

	for _, name := range []string{"5_corners.png", "5_axes.png", "5_undistorted.png"} {
		assert.FileExists(t, filepath.Join(cfg.OverlayDir, name))
	}
	assert.NoFileExists(t, filepath.Join(cfg.OverlayDir, "5_preview.png"))
	assert.Len(t, res.Saved, 4)

	rep := res.Report()
	assert.Equal(t, "Done", rep.State)
	require.Len(t, rep.Views, 6)
	assert.Equal(t, 0, rep.Views[0].ImageID)
	assert.Equal(t, testBoard.Count(), rep.Views[0].Points)
	assert.Equal(t, filepath.Join(dir, "0.png"), rep.Views[0].Path)
}

func TestRunEmptyDirectory(t *testing.T) {
	res, err := Run(context.Background(), testConfig(t.TempDir()), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, calerr.ErrInsufficientObservations)
	assert.Equal(t, 2, calerr.ExitCode(err))
	require.NotNil(t, res.Pipeline)
	assert.Equal(t, 0, res.Pipeline.Usable)
	require.Len(t, res.Pipeline.Warnings, 1)
	assert.Contains(t, res.Pipeline.Warnings[0], "MissingInputFile")
}

func TestRunNamedMissingFile(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Files = []string{filepath.Join(t.TempDir(), "nope.jpg")}
	_, err := Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, calerr.ErrMissingInputFile)
	assert.Equal(t, 4, calerr.ExitCode(err))
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Format = "csv"
	res, err := Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, 1, calerr.ExitCode(err))
}

func TestSequenceSourceStopsAtFirstGap(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0.jpg", "1.jpg", "2.jpg", "4.jpg"} {
		writeBlank(t, filepath.Join(dir, name))
	}
	src := &SequenceSource{Dir: dir, Pattern: "%d", Extension: ".jpg", MaxImages: 80}
	inputs, warnings, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, inputs, 3)
	for i, in := range inputs {
		assert.Equal(t, i, in.Index)
		assert.NoError(t, in.Err)
		assert.NotNil(t, in.Image)
	}
}

func TestSequenceSourceMissingFirstFile(t *testing.T) {
	dir := t.TempDir()
	writeBlank(t, filepath.Join(dir, "1.jpg"))
	writeBlank(t, filepath.Join(dir, "2.jpg"))

	src := &SequenceSource{Dir: dir, Extension: ".jpg", MaxImages: 80}
	inputs, warnings, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "0.jpg")
	require.Len(t, inputs, 2)
	assert.Equal(t, 1, inputs[0].Index)
}

func TestSequenceSourceRespectsCapacity(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"img_0.jpg", "img_1.jpg", "img_2.jpg"} {
		writeBlank(t, filepath.Join(dir, name))
	}
	src := &SequenceSource{Dir: dir, Pattern: "img_%d", Extension: ".jpg", MaxImages: 2}
	inputs, _, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, inputs, 2)
	assert.Equal(t, filepath.Join(dir, "img_1.jpg"), src.Path(1))
}

func TestSequenceSourceRecordsUnreadableImage(t *testing.T) {
	dir := t.TempDir()
	writeBlank(t, filepath.Join(dir, "0.jpg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.jpg"), []byte("not an image"), 0o600))

	inputs, _, err := (&SequenceSource{Dir: dir, Extension: ".jpg", MaxImages: 5}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Error(t, inputs[1].Err)
	assert.Nil(t, inputs[1].Image)
}

func TestFileSourceDiscoversDirectories(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.png", "2.png", "1.png", "notes.txt", "skip_3.png"} {
		path := filepath.Join(dir, name)
		if strings.HasSuffix(name, ".txt") {
			require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
			continue
		}
		writeBlank(t, path)
	}
	src := &FileSource{Paths: []string{dir}, ExcludePatterns: []string{"skip_*"}}
	inputs, _, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, "1.png", filepath.Base(inputs[0].Path))
	assert.Equal(t, "2.png", filepath.Base(inputs[1].Path))
	assert.Equal(t, "10.png", filepath.Base(inputs[2].Path))
}

func TestNaturalCompare(t *testing.T) {
	names := []string{"img10.jpg", "img2.jpg", "img1.jpg", "a.jpg", "img2b.jpg"}
	sorted := []string{"a.jpg", "img1.jpg", "img2.jpg", "img2b.jpg", "img10.jpg"}
	got := append([]string(nil), names...)
	slices.SortFunc(got, naturalCompare)
	assert.Equal(t, sorted, got)

	// digit runs longer than nine digits and beyond int64
	long := []string{
		"frame_99999999999999999999.png",
		"frame_1234567890.png",
		"frame_999999999.png",
		"frame_000000001234567891.png",
	}
	slices.SortFunc(long, naturalCompare)
	assert.Equal(t, []string{
		"frame_999999999.png",
		"frame_1234567890.png",
		"frame_000000001234567891.png",
		"frame_99999999999999999999.png",
	}, long)

	assert.Negative(t, naturalCompare("1700000000123.jpg", "1700000000124.jpg"))
	assert.Positive(t, naturalCompare("img1.jpg", "img01.jpg"))
	assert.Zero(t, naturalCompare("img7.jpg", "img7.jpg"))
}

func TestFormatReport(t *testing.T) {
	dir := writeDataset(t)
	res, err := Run(context.Background(), testConfig(dir), nil)
	require.NoError(t, err)

	text, err := res.FormatResults("text", "en")
	require.NoError(t, err)
	assert.Contains(t, text, "Camera matrix:")
	assert.Contains(t, text, "Distortion (k1 k2 p1 p2 k3)")
	assert.Contains(t, text, "Extrinsics:")
	assert.Contains(t, text, "Verification (image 5)")
	assert.Equal(t, 6, strings.Count(text, "  image "))

	js, err := res.FormatResults("json", "en")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Equal(t, "Done", decoded["state"])
	assert.Len(t, decoded["views"], 6)

	ym, err := res.FormatResults("yaml", "en")
	require.NoError(t, err)
	var rep Report
	require.NoError(t, yaml.Unmarshal([]byte(ym), &rep))
	assert.Equal(t, testBoard, rep.Board)
	assert.Len(t, rep.Views, 6)

	_, err = res.FormatResults("xml", "en")
	assert.Error(t, err)
}

func TestFormatFailedRun(t *testing.T) {
	res, err := Run(context.Background(), testConfig(t.TempDir()), nil)
	require.Error(t, err)

	text, ferr := res.FormatResults("text", "de")
	require.NoError(t, ferr)
	assert.Contains(t, text, "State: Failed")
	assert.Contains(t, text, "Error: ")
	assert.Contains(t, text, "Warnings (1)")
	assert.NotContains(t, text, "Camera matrix")
}

func TestSaveResults(t *testing.T) {
	res, _ := Run(context.Background(), testConfig(t.TempDir()), nil)
	var buf strings.Builder
	file := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, res.SaveResults(&buf, "json", "en", file, false))
	assert.Contains(t, buf.String(), "Report written to")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state": "Failed"`)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Pattern = "img"
	cfg.MaxImages = 0
	cfg.Format = "csv"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "%d")
	assert.ErrorContains(t, err, "max images")
	assert.ErrorContains(t, err, "csv")

	cfg = DefaultConfig()
	cfg.Files = []string{"a.jpg"}
	cfg.Pattern = ""
	assert.NoError(t, cfg.Validate())
	assert.IsType(t, &FileSource{}, cfg.Source())
	assert.IsType(t, &SequenceSource{}, DefaultConfig().Source())
}
