package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRootValidated()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
	assert.True(t, DirExists(filepath.Join(root, "cmd", "checkercal")))
}

func TestValidateProjectRoot(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorContains(t, ValidateProjectRoot(dir), "go.mod not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o600))
	assert.ErrorContains(t, ValidateProjectRoot(dir), "internal")
}

func TestFileAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
}

func TestBuildCLISkipsExistingBinary(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "checkercal")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o600))
	assert.NoError(t, BuildCLI(context.Background(), "/nonexistent", bin))
}
