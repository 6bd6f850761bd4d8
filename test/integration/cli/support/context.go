package support

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand   string
	LastStdout    string
	LastStderr    string
	LastOutput    string // stdout followed by stderr
	LastError     error
	LastExitCode  int
	LastStartTime time.Time
	LastDuration  time.Duration

	// Test environment
	WorkingDir string // per-scenario directory commands run in
	EnvVars    []string

	// In-process server
	HTTPServer *httptest.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    http.Header
}

// NewTestContext creates a scenario context with an empty working
// directory and a private HOME, so no user configuration leaks in.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "checkercal-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	testCtx := &TestContext{WorkingDir: dir}
	testCtx.AddEnvVar("HOME", dir)
	testCtx.AddEnvVar("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	return testCtx, nil
}

// Cleanup stops the server and removes the working directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	testCtx.StopServer()
	if err := os.RemoveAll(testCtx.WorkingDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove working directory %s: %w", testCtx.WorkingDir, err))
	}
	return errors.Join(errs...)
}

// StopServer closes the in-process server if one is running.
func (testCtx *TestContext) StopServer() {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// Path resolves a scenario-relative path.
func (testCtx *TestContext) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.WorkingDir, name)
}
