// Package testutil locates the project and builds the CLI for tests that
// run it as a separate process.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// CLIPackage is the import path of the command-line binary, relative to
// the project root.
const CLIPackage = "./cmd/checkercal"

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ValidateProjectRoot ensures the directory contains go.mod and the CLI
// sources.
func ValidateProjectRoot(root string) error {
	goModPath := filepath.Join(root, "go.mod")
	if !FileExists(goModPath) {
		return fmt.Errorf("go.mod not found at %s", goModPath)
	}
	for _, dir := range []string{"internal", CLIPackage} {
		if !DirExists(filepath.Join(root, dir)) {
			return fmt.Errorf("required project directory %s not found in %s", dir, root)
		}
	}
	return nil
}

// GetProjectRootValidated returns the project root with validation.
func GetProjectRootValidated() (string, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return "", err
	}
	if err := ValidateProjectRoot(root); err != nil {
		return "", fmt.Errorf("invalid project root %s: %w", root, err)
	}
	return root, nil
}

// BuildCLI compiles the CLI into binPath unless it already exists.
func BuildCLI(ctx context.Context, root, binPath string) error {
	if FileExists(binPath) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(binPath), 0o755); err != nil {
		return fmt.Errorf("create bin dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "go", "build", "-o", binPath, CLIPackage)
	cmd.Dir = root
	cmd.Env = os.Environ()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("build CLI: %w\n%s", err, out)
	}
	return nil
}
