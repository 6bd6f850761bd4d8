package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShow(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "rows: 7")
	assert.Contains(t, out, "square_size: 25")

	t.Setenv("CHECKERCAL_BOARD_ROWS", "9")
	out, _, err = execute(t, "config", "show", "--info")
	require.NoError(t, err)
	assert.Contains(t, out, "rows: 9")
	assert.Contains(t, out, "Environment prefix: CHECKERCAL")
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)
	out, _, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "checkercal.yaml")
	assert.FileExists(t, filepath.Join(dir, "checkercal.yaml"))

	_, _, err = execute(t, "config", "init")
	assert.Error(t, err, "existing files are kept")

	// a config file in the working directory is picked up
	require.NoError(t, os.WriteFile("checkercal.yaml", []byte("log_level: warn\n"), 0o600))
	out, _, err = execute(t, "config", "show", "--info")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level: warn")
	assert.Contains(t, out, "checkercal.yaml")
}

func TestConfigFlagOverridesFile(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("custom.yaml", []byte("board:\n  rows: 5\n  cols: 6\n"), 0o600))
	out, _, err := execute(t, "config", "show", "--config", "custom.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "rows: 5")
	assert.Contains(t, out, "cols: 6")
}
