package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stagehand-ci/stagehand/internal/engine"
	"github.com/stagehand-ci/stagehand/internal/history"
	"github.com/stagehand-ci/stagehand/internal/runstore"
)

// runHome points the state root at a fresh directory so reports, artifacts
// and the history database land under the test's control.
func runHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("STAGEHAND_HOME", home)
	return home
}

func TestRunCommandSucceeds(t *testing.T) {
	home := runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-smoke
  stages:
    - name: greet
      run:
        - echo hello from $PIPELINE
    - name: check
      run:
        - test -n "$RUN_ID"
`)

	out, err := executeCommand("run", path, "--quiet=false", "--format", "text")
	if err != nil {
		t.Fatalf("run failed: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Outcome: succeeded") {
		t.Errorf("output missing outcome line:\n%s", out)
	}

	store := runstore.NewStore(filepath.Join(home, "runs"))
	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d stored runs, want 1", len(list))
	}
	if list[0].Pipeline != "cli-smoke" || list[0].Outcome != engine.OutcomeSucceeded {
		t.Errorf("stored summary = %+v", list[0])
	}

	db, err := history.Open(filepath.Join(home, "stagehand.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := db.ListRuns("", -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d history runs, want 1", len(runs))
	}
	if runs[0].Outcome != "succeeded" || runs[0].Stages != 2 {
		t.Errorf("history run = %+v", runs[0])
	}
}

func TestRunCommandFailureExitCode(t *testing.T) {
	home := runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-broken
  stages:
    - name: boom
      run:
        - exit 3
`)

	_, err := executeCommand("run", path, "-q")
	if err == nil {
		t.Fatal("expected error for failed run, got nil")
	}
	if code := exitCodeOf(t, err); code != exitRunFailed {
		t.Errorf("exit code = %d, want %d", code, exitRunFailed)
	}

	list, err := runstore.NewStore(filepath.Join(home, "runs")).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Outcome != engine.OutcomeFailed {
		t.Errorf("stored runs = %+v, want one failed run", list)
	}
}

func TestRunCommandValidationExitCode(t *testing.T) {
	runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-invalid
  stages:
    - name: solo
`)

	out, err := executeCommand("run", path)
	if err == nil {
		t.Fatal("expected error for invalid pipeline, got nil")
	}
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
	if !strings.Contains(out, "pipeline.stages[0].run") {
		t.Errorf("output missing finding:\n%s", out)
	}
}

func TestRunCommandNoHistory(t *testing.T) {
	home := runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-nohist
  stages:
    - name: ok
      run:
        - "true"
`)

	if _, err := executeCommand("run", path, "-q", "--no-history"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	list, err := runstore.NewStore(filepath.Join(home, "runs")).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("got %d stored runs, want 1", len(list))
	}
	if _, err := os.Stat(filepath.Join(home, "stagehand.db")); !os.IsNotExist(err) {
		t.Errorf("history database created despite --no-history (stat err: %v)", err)
	}
}

func TestRunCommandTailShowsFailedOutput(t *testing.T) {
	runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-tail
  stages:
    - name: boom
      run:
        - echo first line
        - echo second line
        - "false"
`)

	out, err := executeCommand("run", path, "--quiet=false", "--format", "text", "--tail", "5")
	if err == nil {
		t.Fatal("expected error for failed run, got nil")
	}
	if !strings.Contains(out, "--- boom output (last 5 lines) ---") {
		t.Errorf("output missing tail header:\n%s", out)
	}
	if !strings.Contains(out, "second line") {
		t.Errorf("output missing tail content:\n%s", out)
	}
}

func TestRunCommandJSONReport(t *testing.T) {
	runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-json
  stages:
    - name: only
      run:
        - echo ok
`)

	out, err := executeCommand("run", path, "--format", "json")
	if err != nil {
		t.Fatalf("run failed: %v\noutput: %s", err, out)
	}

	var report engine.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if report.Pipeline != "cli-json" || report.Outcome != engine.OutcomeSucceeded {
		t.Errorf("report = %+v", report)
	}
	if len(report.Stages) != 1 || report.Stages[0].Name != "only" {
		t.Errorf("stages = %+v", report.Stages)
	}
}

func TestRunCommandBadTimeout(t *testing.T) {
	runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-timeout
  stages:
    - name: ok
      run:
        - "true"
`)

	_, err := executeCommand("run", path, "--timeout", "banana")
	if err == nil {
		t.Fatal("expected error for bad --timeout, got nil")
	}
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
}

// The --env flag accumulates across executions of the shared command tree,
// so these two stay at the end of the file.

func TestRunCommandEnvFlag(t *testing.T) {
	runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-env
  stages:
    - name: check
      run:
        - test "$DEPLOY_TARGET" = staging
`)

	out, err := executeCommand("run", path, "-q", "--env", "DEPLOY_TARGET=staging")
	if err != nil {
		t.Fatalf("run failed: %v\noutput: %s", err, out)
	}
}

func TestRunCommandBadEnvFlag(t *testing.T) {
	runHome(t)
	path := writeYAML(t, "pipeline.yaml", `
pipeline:
  name: cli-env
  stages:
    - name: ok
      run:
        - "true"
`)

	_, err := executeCommand("run", path, "--env", "oops")
	if err == nil {
		t.Fatal("expected error for bad --env, got nil")
	}
	if code := exitCodeOf(t, err); code != exitConfig {
		t.Errorf("exit code = %d, want %d", code, exitConfig)
	}
}
