package cli_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/checkercal/internal/testutil"
	"github.com/MeKo-Tech/checkercal/test/integration/cli/support"
	"github.com/cucumber/godog"
)

// testContext holds the state of the running scenario.
var testContext *support.TestContext

// InitializeScenario sets up a fresh context for each scenario.
func InitializeScenario(sc *godog.ScenarioContext) {
	var err error
	testContext, err = support.NewTestContext()
	if err != nil {
		panic(fmt.Sprintf("Failed to create test context: %v", err))
	}

	testContext.RegisterCommonSteps(sc)
	testContext.RegisterDatasetSteps(sc)
	testContext.RegisterServerSteps(sc)

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if cleanupErr := testContext.Cleanup(); cleanupErr != nil {
			fmt.Printf("Warning: Failed to cleanup test context: %v\n", cleanupErr)
		}
		return ctx, nil
	})
}

// TestFeatures runs each feature file as its own subtest.
func TestFeatures(t *testing.T) {
	entries, err := os.ReadDir("features")
	if err != nil {
		t.Fatalf("failed to read features directory: %v", err)
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}
	tags := os.Getenv("GODOG_TAGS")

	found := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".feature") {
			continue
		}
		found = true
		featurePath := filepath.Join("features", e.Name())

		t.Run(e.Name(), func(t *testing.T) {
			suite := godog.TestSuite{
				ScenarioInitializer: InitializeScenario,
				Options: &godog.Options{
					Format:   format,
					Tags:     tags,
					Paths:    []string{featurePath},
					TestingT: t,
				},
			}

			if suite.Run() != 0 {
				t.Fatalf("non-zero status returned for %s", featurePath)
			}
		})
	}

	if !found {
		t.Fatalf("no .feature files found in features/")
	}
}

// TestMain builds project_root/bin/checkercal when missing and puts it on
// PATH so scenarios can invoke the plain command name.
func TestMain(m *testing.M) {
	root, err := testutil.GetProjectRootValidated()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate project root: %v\n", err)
		os.Exit(1)
	}

	binDir := filepath.Join(root, "bin")
	if err := testutil.BuildCLI(context.Background(), root, filepath.Join(binDir, "checkercal")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build CLI binary: %v\n", err)
		os.Exit(1)
	}
	_ = os.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	os.Exit(m.Run())
}
