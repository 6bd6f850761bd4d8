package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

const commandTimeout = 2 * time.Minute

// iRunCommand executes a command in the scenario directory and stores the
// result.
func (testCtx *TestContext) iRunCommand(command string) error {
	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	testCtx.LastStdout = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastOutput = testCtx.LastStdout + testCtx.LastStderr
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	testCtx.LastExitCode = 0
	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	}
	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theExitCodeShouldBe verifies the process exit status.
func (testCtx *TestContext) theExitCodeShouldBe(code int) error {
	if testCtx.LastExitCode != code {
		return fmt.Errorf("expected exit code %d, got %d\nOutput: %s", code, testCtx.LastExitCode, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldNotContain verifies the output lacks specific text.
func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// theErrorShouldMention verifies the failure output contains specific text,
// ignoring case.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}
	if !strings.Contains(strings.ToLower(testCtx.LastOutput), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, testCtx.LastOutput)
	}
	return nil
}

// stdoutJSON parses the command's standard output.
func (testCtx *TestContext) stdoutJSON() (any, error) {
	var data any
	if err := json.Unmarshal([]byte(testCtx.LastStdout), &data); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, testCtx.LastStdout)
	}
	return data, nil
}

// theOutputShouldBeValidJSON verifies stdout is one JSON document.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.stdoutJSON()
	return err
}

// theJSONShouldContain verifies a dotted field path exists in stdout.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	data, err := testCtx.stdoutJSON()
	if err != nil {
		return err
	}
	_, err = lookupField(data, field)
	return err
}

// theJSONFieldShouldBe compares the textual value of a field in stdout.
func (testCtx *TestContext) theJSONFieldShouldBe(field, want string) error {
	data, err := testCtx.stdoutJSON()
	if err != nil {
		return err
	}
	return fieldEquals(data, field, want)
}

// theJSONFieldShouldBeBelow checks a numeric field in stdout.
func (testCtx *TestContext) theJSONFieldShouldBeBelow(field string, limit float64) error {
	data, err := testCtx.stdoutJSON()
	if err != nil {
		return err
	}
	v, err := lookupField(data, field)
	if err != nil {
		return err
	}
	f, ok := v.(float64)
	if !ok {
		return fmt.Errorf("field '%s' is not a number: %v", field, v)
	}
	if f >= limit {
		return fmt.Errorf("field '%s' is %g, want below %g", field, f, limit)
	}
	return nil
}

// lookupField walks a dotted path; numeric parts index arrays.
func lookupField(data any, field string) (any, error) {
	current := data
	parts := strings.Split(field, ".")
	for i, part := range parts {
		path := strings.Join(parts[:i+1], ".")
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in JSON", path)
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid array index '%s' in '%s' (length %d)", part, path, len(node))
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot navigate into non-object field '%s'", strings.Join(parts[:i], "."))
		}
	}
	return current, nil
}

func fieldEquals(data any, field, want string) error {
	v, err := lookupField(data, field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("field '%s' is '%s', want '%s'", field, got, want)
	}
	return nil
}

// theFileShouldExist verifies a scenario file exists.
func (testCtx *TestContext) theFileShouldExist(filename string) error {
	if _, err := os.Stat(testCtx.Path(filename)); err != nil {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	return nil
}

// theFileShouldNotExist verifies a scenario file was not written.
func (testCtx *TestContext) theFileShouldNotExist(filename string) error {
	if _, err := os.Stat(testCtx.Path(filename)); err == nil {
		return fmt.Errorf("file exists but should not: %s", filename)
	}
	return nil
}

// theFileShouldContain verifies a file contains specific content.
func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	content, err := os.ReadFile(testCtx.Path(filename))
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if !strings.Contains(string(content), expectedContent) {
		return fmt.Errorf("file %s does not contain '%s'\nActual content: %s", filename, expectedContent, content)
	}
	return nil
}

// aFileWithContent writes a scenario file from a doc string.
func (testCtx *TestContext) aFileWithContent(filename string, content *godog.DocString) error {
	return os.WriteFile(testCtx.Path(filename), []byte(content.Content), 0o600)
}

// theEnvironmentVariableIsSetTo sets a variable for later commands.
func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, value)
	return nil
}

// RegisterCommonSteps registers command and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	// Command execution
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the exit code should be (\d+)$`, testCtx.theExitCodeShouldBe)

	// Output validation
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be below ([0-9.]+)$`, testCtx.theJSONFieldShouldBeBelow)

	// Files and environment
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should not exist$`, testCtx.theFileShouldNotExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
	sc.Step(`^a file "([^"]*)" with content:$`, testCtx.aFileWithContent)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}
