package functional

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"
)

// scenarioState carries one scenario's working directory and the
// outcome of the last binary invocation.
type scenarioState struct {
	workDir     string
	binPath     string
	catalogPath string
	stdout      string
	stderr      string
	exitCode    int
}

type ctxKey struct{}

func withState(ctx context.Context, s *scenarioState) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func stateFrom(ctx context.Context) *scenarioState {
	s, _ := ctx.Value(ctxKey{}).(*scenarioState)
	return s
}

// TestFeatures drives the built auditor binary through the feature
// files. Build the binary first and point AUDITOR_TEST_BINARY at it:
//
//	go build -o auditor ./cmd/auditor
//	AUDITOR_TEST_BINARY=./auditor go test ./test/functional
func TestFeatures(t *testing.T) {
	binPath := os.Getenv("AUDITOR_TEST_BINARY")
	if binPath == "" {
		t.Skip("AUDITOR_TEST_BINARY not set; build cmd/auditor and point it there")
	}

	// go test changes the working directory, so pin the binary path
	binPath, err := filepath.Abs(binPath)
	if err != nil {
		t.Fatalf("resolving binary path: %v", err)
	}

	opts := godog.Options{
		Format:   "pretty",
		Paths:    []string{"features"},
		TestingT: t,
	}
	if tags := os.Getenv("AUDITOR_TEST_TAGS"); tags != "" {
		opts.Tags = tags
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			registerSteps(sc, t, binPath)
		},
		Options: &opts,
	}
	if suite.Run() != 0 {
		t.Fatal("functional tests failed")
	}
}

func registerSteps(sc *godog.ScenarioContext, t *testing.T, binPath string) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return withState(ctx, &scenarioState{workDir: t.TempDir(), binPath: binPath}), nil
	})

	sc.Step(`^a source catalog containing:$`, aSourceCatalogContaining)
	sc.Step(`^I run "([^"]*)"$`, iRun)
	sc.Step(`^the exit code is (\d+)$`, theExitCodeIs)
	sc.Step(`^the exit code is not (\d+)$`, theExitCodeIsNot)
	sc.Step(`^the output contains "([^"]*)"$`, theOutputContains)
	sc.Step(`^the output does not contain "([^"]*)"$`, theOutputDoesNotContain)
	sc.Step(`^the error output contains "([^"]*)"$`, theErrorOutputContains)
}
