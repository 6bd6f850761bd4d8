package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/checkercal/internal/batch"
	"github.com/MeKo-Tech/checkercal/internal/calerr"
	"github.com/MeKo-Tech/checkercal/internal/camera"
	"github.com/MeKo-Tech/checkercal/internal/config"
	"github.com/MeKo-Tech/checkercal/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateViews(t *testing.T, dir string, count string) {
	t.Helper()
	out, _, err := execute(t, "generate", "--out", dir, "--count", count, "--ext", ".png")
	require.NoError(t, err)
	require.Contains(t, out, "Wrote "+count+" views")
}

func TestCalibrateWorkflow(t *testing.T) {
	dir := isolate(t)
	views := filepath.Join(dir, "views")
	generateViews(t, views, "6")

	modelFile := filepath.Join(dir, "camera.yaml")
	out, _, err := execute(t, "calibrate", "--dir", views, "--ext", ".png",
		"--format", "json", "--model-file", modelFile, "--overlay-dir", filepath.Join(dir, "overlays"))
	require.NoError(t, err)

	var rep batch.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "Done", rep.State)
	assert.Equal(t, 6, rep.Usable)
	require.NotNil(t, rep.Camera)
	assert.Less(t, rep.Camera.RMS, 1.0)

	model, err := camera.LoadModel(modelFile)
	require.NoError(t, err)
	truth := synth.DefaultModel().Intrinsics
	assert.InDelta(t, truth.Fx, model.Intrinsics.Fx, 0.01*truth.Fx)
	assert.InDelta(t, truth.Cx, model.Intrinsics.Cx, 5)

	out, _, err = execute(t, "undistort", filepath.Join(views, "0.png"), "--model", modelFile,
		"--out-dir", filepath.Join(dir, "flat"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "flat", "0_undistorted.png"))
	assert.Contains(t, out, "0_undistorted.png")

	out, _, err = execute(t, "pose", filepath.Join(views, "2.png"), "--model", modelFile, "--format", "json")
	require.NoError(t, err)
	var poses []struct {
		Path  string `json:"path"`
		Found bool   `json:"found"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &poses))
	require.Len(t, poses, 1)
	assert.True(t, poses[0].Found)

	out, _, err = execute(t, "pose", filepath.Join(views, "3.png"), "--model", modelFile)
	require.NoError(t, err)
	assert.Contains(t, out, "rvec [")

	out, stderr, err := execute(t, "track", "--source", views, "--ext", ".png", "--model", modelFile,
		"--max-frames", "2", "--print")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, `"found":true`))
	assert.Contains(t, stderr, "Tracked 2 of 2 frames")
}

func TestCalibrateExitCodes(t *testing.T) {
	dir := isolate(t)
	views := filepath.Join(dir, "few")
	generateViews(t, views, "2")

	out, _, err := execute(t, "calibrate", "--dir", views, "--ext", ".png")
	require.Error(t, err)
	assert.Equal(t, 2, calerr.ExitCode(err))
	assert.Contains(t, out, "State: Failed")

	_, _, err = execute(t, "calibrate", filepath.Join(dir, "missing.png"))
	require.Error(t, err)
	assert.Equal(t, 4, calerr.ExitCode(err))

	_, _, err = execute(t, "calibrate", "--dir", views, "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, 1, calerr.ExitCode(err))
}

func TestModelCommandsNeedModel(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "undistort", "photo.png")
	assert.ErrorContains(t, err, "no camera model")

	_, _, err = execute(t, "track", "--model", "camera.yaml")
	assert.Error(t, err)
}

func TestPromptBoard(t *testing.T) {
	b := config.BoardConfig{Rows: 7, Cols: 10, SquareSize: 25}
	var out bytes.Buffer
	err := promptBoard(strings.NewReader("2\n8\n\n-1\n30\n"), &out, &b)
	require.NoError(t, err)
	assert.Equal(t, config.BoardConfig{Rows: 8, Cols: 10, SquareSize: 30}, b)
	assert.Contains(t, out.String(), "Inner corners per row (rows) [7]: ")
	assert.Contains(t, out.String(), "enter an integer >= 3")
	assert.Contains(t, out.String(), "enter a positive number")

	err = promptBoard(strings.NewReader("8\n"), &out, &b)
	assert.ErrorContains(t, err, "no input")
}

func TestCalibrateInteractive(t *testing.T) {
	dir := isolate(t)
	views := filepath.Join(dir, "views")
	generateViews(t, views, "2")

	resetFlags(rootCmd)
	globalConfig = nil
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader("7\n10\n25\n"))
	rootCmd.SetArgs([]string{"calibrate", "--interactive", "--dir", views, "--ext", ".png"})
	err := rootCmd.Execute()

	require.Error(t, err, "two views are not enough")
	assert.Contains(t, stdout.String(), "Square size [25]: ")
	assert.Equal(t, 2, calerr.ExitCode(err))
}
