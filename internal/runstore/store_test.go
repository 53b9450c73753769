package runstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stagehand-ci/stagehand/internal/engine"
)

func testReport(runID string, started time.Time) *engine.Report {
	return &engine.Report{
		RunID:       runID,
		Pipeline:    "order-system",
		Branch:      "main",
		BuildNumber: "42",
		Outcome:     engine.OutcomeSucceeded,
		Stages: []engine.StageResult{
			{Name: "build", Status: engine.StatusSucceeded, Stdout: "built\n"},
			{Name: "test", Status: engine.StatusSucceeded},
		},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		DurationMs: 3000,
	}
}

func TestSaveLoadReport(t *testing.T) {
	store := NewStore(t.TempDir())
	want := testReport("run-1", time.Now().UTC().Truncate(time.Second))

	if err := store.SaveReport(want); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	got, err := store.LoadReport("run-1")
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}

	if got.RunID != want.RunID || got.Pipeline != want.Pipeline {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.Outcome != engine.OutcomeSucceeded {
		t.Errorf("expected succeeded, got %s", got.Outcome)
	}
	if len(got.Stages) != 2 || got.Stages[0].Stdout != "built\n" {
		t.Errorf("stage results lost: %+v", got.Stages)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("expected start %v, got %v", want.StartedAt, got.StartedAt)
	}
}

func TestLoadReportUnknownRun(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.LoadReport("nope")
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := NewStore(t.TempDir())
	base := time.Now().UTC()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		r := testReport(id, base.Add(time.Duration(i)*time.Minute))
		if err := store.SaveReport(r); err != nil {
			t.Fatalf("SaveReport %s: %v", id, err)
		}
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(got))
	}
	want := []string{"run-c", "run-b", "run-a"}
	for i := range want {
		if got[i].RunID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i].RunID)
		}
	}
	if got[0].Stages != 2 {
		t.Errorf("expected 2 stages in summary, got %d", got[0].Stages)
	}
}

func TestListEmptyStore(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "never-created"))

	got, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no summaries, got %d", len(got))
	}
}

func TestStageOutputRoundtrip(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.SaveStageOutput("run-1", "build", "hello\n", "warn\n"); err != nil {
		t.Fatalf("SaveStageOutput: %v", err)
	}
	stdout, stderr, err := store.StageOutput("run-1", "build")
	if err != nil {
		t.Fatalf("StageOutput: %v", err)
	}
	if stdout != "hello\n" || stderr != "warn\n" {
		t.Errorf("unexpected output %q / %q", stdout, stderr)
	}

	// Stages that never logged read back as empty, not as errors.
	stdout, stderr, err = store.StageOutput("run-1", "deploy")
	if err != nil {
		t.Fatalf("StageOutput for silent stage: %v", err)
	}
	if stdout != "" || stderr != "" {
		t.Errorf("expected empty output, got %q / %q", stdout, stderr)
	}
}

func TestDeleteRemovesRun(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.SaveReport(testReport("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete("run-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.LoadReport("run-1"); !os.IsNotExist(err) {
		t.Errorf("expected run gone, got %v", err)
	}
}

func TestRecorderPersistsRun(t *testing.T) {
	store := NewStore(t.TempDir())
	rec := NewRecorder(store)
	report := testReport("run-9", time.Now())
	info := engine.RunInfo{RunID: "run-9", Pipeline: "order-system"}

	if err := rec.StageFinished(info, report.Stages[0]); err != nil {
		t.Fatalf("StageFinished: %v", err)
	}
	if err := rec.RunFinished(report); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	stdout, _, err := store.StageOutput("run-9", "build")
	if err != nil {
		t.Fatal(err)
	}
	if stdout != "built\n" {
		t.Errorf("expected stage log persisted, got %q", stdout)
	}
	if _, err := store.LoadReport("run-9"); err != nil {
		t.Errorf("expected report persisted: %v", err)
	}
}
