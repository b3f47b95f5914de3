package functional

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
)

// scrubbedPrefixes lists environment variables that must never leak
// from the host into a scenario. Runs in the suite talk to nothing:
// no datastore, no mail, no LLM providers, no host tuning.
var scrubbedPrefixes = []string{
	"SUPABASE_",
	"EMAIL_",
	"ALERT_",
	"ANTHROPIC_",
	"OPENAI_",
	"PNCP_",
	"AUDITOR_",
	"MAX_PRIMARY_ROWS",
	"STORAGE_BUCKET",
}

func aSourceCatalogContaining(ctx context.Context, doc *godog.DocString) (context.Context, error) {
	state := stateFrom(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state; is the Before hook running?")
	}
	path := filepath.Join(state.workDir, "sources.toml")
	if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
		return ctx, fmt.Errorf("writing source catalog: %w", err)
	}
	state.catalogPath = path
	return ctx, nil
}

// iRun executes a command string, replacing "auditor" with the test
// binary path and running it inside the scenario's work directory.
func iRun(ctx context.Context, command string) (context.Context, error) {
	state := stateFrom(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state; is the Before hook running?")
	}

	parts := strings.Fields(command)
	if len(parts) == 0 || parts[0] != "auditor" {
		return ctx, fmt.Errorf("command must start with %q, got %q", "auditor", command)
	}

	cmd := exec.Command(state.binPath, parts[1:]...)
	cmd.Dir = state.workDir
	cmd.Env = scenarioEnv(state)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	state.stdout = stdout.String()
	state.stderr = stderr.String()
	state.exitCode = 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return ctx, fmt.Errorf("running %q: %w", command, err)
		}
		state.exitCode = exitErr.ExitCode()
	}
	return ctx, nil
}

// scenarioEnv builds a hermetic environment: the host environment with
// every scrubbed variable removed, plus the scenario's own catalog.
func scenarioEnv(state *scenarioState) []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		if scrubbed(kv) {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "HOME="+state.workDir)
	if state.catalogPath != "" {
		env = append(env, "AUDITOR_SOURCES_FILE="+state.catalogPath)
	}
	return env
}

func scrubbed(kv string) bool {
	for _, prefix := range scrubbedPrefixes {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}
	return false
}

func theExitCodeIs(ctx context.Context, want int) error {
	state := stateFrom(ctx)
	if state.exitCode != want {
		return fmt.Errorf("exit code is %d, want %d\nstdout:\n%s\nstderr:\n%s",
			state.exitCode, want, state.stdout, state.stderr)
	}
	return nil
}

func theExitCodeIsNot(ctx context.Context, unwanted int) error {
	state := stateFrom(ctx)
	if state.exitCode == unwanted {
		return fmt.Errorf("exit code is %d\nstdout:\n%s\nstderr:\n%s",
			state.exitCode, state.stdout, state.stderr)
	}
	return nil
}

func theOutputContains(ctx context.Context, want string) error {
	state := stateFrom(ctx)
	if !strings.Contains(state.stdout, want) {
		return fmt.Errorf("output does not contain %q\nstdout:\n%s\nstderr:\n%s",
			want, state.stdout, state.stderr)
	}
	return nil
}

func theOutputDoesNotContain(ctx context.Context, unwanted string) error {
	state := stateFrom(ctx)
	if strings.Contains(state.stdout, unwanted) {
		return fmt.Errorf("output contains %q\nstdout:\n%s", unwanted, state.stdout)
	}
	return nil
}

func theErrorOutputContains(ctx context.Context, want string) error {
	state := stateFrom(ctx)
	if !strings.Contains(state.stderr, want) {
		return fmt.Errorf("error output does not contain %q\nstdout:\n%s\nstderr:\n%s",
			want, state.stdout, state.stderr)
	}
	return nil
}
