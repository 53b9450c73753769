package stats

import (
	"database/sql"
	"testing"

	"github.com/stagehand-ci/stagehand/internal/history"
)

func testDB(t *testing.T) *history.DB {
	t.Helper()
	d, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func seedRun(t *testing.T, conn *sql.DB, runID, pipeline, outcome, startedAt string, durationMs int) {
	t.Helper()
	exec(t, conn,
		`INSERT INTO runs (run_id, pipeline, outcome, started_at, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		runID, pipeline, outcome, startedAt, durationMs)
}

func seedStage(t *testing.T, conn *sql.DB, runID, stage, status string, durationMs int) {
	t.Helper()
	exec(t, conn,
		`INSERT INTO stage_results (run_id, stage, position, status, duration_ms)
		 VALUES (?, ?, (SELECT COUNT(*) FROM stage_results WHERE run_id = ?), ?, ?)`,
		runID, stage, runID, status, durationMs)
}

func TestQueryPipelineSummaries(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	seedRun(t, c, "r1", "order-system", "succeeded", "2026-06-01 10:00:00", 60000)
	seedRun(t, c, "r2", "order-system", "succeeded", "2026-06-02 10:00:00", 120000)
	seedRun(t, c, "r3", "order-system", "failed", "2026-06-03 10:00:00", 30000)
	seedRun(t, c, "r4", "order-system", "aborted", "2026-06-04 10:00:00", 5000)
	seedRun(t, c, "r5", "billing", "succeeded", "2026-06-01 10:00:00", 10000)
	// Still running, must not count
	seedRun(t, c, "r6", "order-system", "running", "2026-06-05 10:00:00", 0)

	results, err := QueryPipelineSummaries(d, "")
	if err != nil {
		t.Fatalf("QueryPipelineSummaries: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 pipelines, got %d", len(results))
	}
	// Sorted by pipeline name
	if results[0].Pipeline != "billing" || results[1].Pipeline != "order-system" {
		t.Fatalf("unexpected order: %s, %s", results[0].Pipeline, results[1].Pipeline)
	}

	os := results[1]
	if os.Runs != 4 {
		t.Errorf("runs = %d, want 4", os.Runs)
	}
	if os.Succeeded != 2 || os.Failed != 1 || os.Aborted != 1 {
		t.Errorf("outcome counts wrong: %+v", os)
	}
	if os.SuccessRate != 50.0 {
		t.Errorf("success rate = %.1f, want 50.0", os.SuccessRate)
	}
}

func TestQueryPipelineSummaries_Since(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	seedRun(t, c, "r1", "order-system", "succeeded", "2026-01-01 10:00:00", 1000)
	seedRun(t, c, "r2", "order-system", "failed", "2026-06-01 10:00:00", 1000)

	results, err := QueryPipelineSummaries(d, "2026-03-01")
	if err != nil {
		t.Fatalf("QueryPipelineSummaries: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 pipeline, got %d", len(results))
	}
	if results[0].Runs != 1 || results[0].Failed != 1 {
		t.Errorf("since filter not applied: %+v", results[0])
	}
}

func TestQueryStageDurations(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	seedRun(t, c, "r1", "order-system", "succeeded", "2026-06-01 10:00:00", 0)
	seedRun(t, c, "r2", "order-system", "succeeded", "2026-06-02 10:00:00", 0)

	seedStage(t, c, "r1", "build", "succeeded", 10000)
	seedStage(t, c, "r1", "test", "succeeded", 60000)
	seedStage(t, c, "r2", "build", "succeeded", 20000)
	// Skipped stages carry no useful duration
	seedStage(t, c, "r2", "test", "skipped", 0)

	results, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(results))
	}
	stageMap := map[string]StageDuration{}
	for _, r := range results {
		stageMap[r.Stage] = r
	}

	if stageMap["build"].Count != 2 || stageMap["build"].Avg != 15.0 {
		t.Errorf("build: count=%d avg=%.1f, want 2/15.0", stageMap["build"].Count, stageMap["build"].Avg)
	}
	if stageMap["test"].Count != 1 || stageMap["test"].Avg != 60.0 {
		t.Errorf("test: count=%d avg=%.1f, want 1/60.0", stageMap["test"].Count, stageMap["test"].Avg)
	}
}

func TestQueryStageFailureRates(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	seedRun(t, c, "r1", "order-system", "failed", "2026-06-01 10:00:00", 0)
	seedRun(t, c, "r2", "order-system", "succeeded", "2026-06-02 10:00:00", 0)

	seedStage(t, c, "r1", "build", "succeeded", 100)
	seedStage(t, c, "r1", "test", "failed", 100)
	seedStage(t, c, "r1", "deploy", "skipped", 0)
	seedStage(t, c, "r2", "build", "succeeded", 100)
	seedStage(t, c, "r2", "test", "succeeded", 100)
	seedStage(t, c, "r2", "deploy", "succeeded", 100)

	results, err := QueryStageFailureRates(d, "")
	if err != nil {
		t.Fatalf("QueryStageFailureRates: %v", err)
	}

	rateMap := map[string]StageFailureRate{}
	for _, r := range results {
		rateMap[r.Stage] = r
	}

	test := rateMap["test"]
	if test.Executed != 2 || test.Failed != 1 {
		t.Errorf("test: executed=%d failed=%d, want 2/1", test.Executed, test.Failed)
	}
	if test.FailRate != 50.0 {
		t.Errorf("test fail rate = %.1f, want 50.0", test.FailRate)
	}

	deploy := rateMap["deploy"]
	if deploy.Executed != 1 || deploy.Skipped != 1 {
		t.Errorf("deploy: executed=%d skipped=%d, want 1/1", deploy.Executed, deploy.Skipped)
	}
	if deploy.FailRate != 0 {
		t.Errorf("deploy fail rate = %.1f, want 0", deploy.FailRate)
	}
}

func TestQueryThroughput(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	// Two runs in one week, one in the next
	seedRun(t, c, "r1", "order-system", "succeeded", "2026-06-01 10:00:00", 10000)
	seedRun(t, c, "r2", "order-system", "failed", "2026-06-02 10:00:00", 20000)
	seedRun(t, c, "r3", "order-system", "succeeded", "2026-06-10 10:00:00", 30000)

	results, err := QueryThroughput(d, "")
	if err != nil {
		t.Fatalf("QueryThroughput: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(results))
	}
	// Newest period first
	if results[0].Runs != 1 || results[0].Succeeded != 1 {
		t.Errorf("newest period wrong: %+v", results[0])
	}
	if results[1].Runs != 2 || results[1].Failed != 1 {
		t.Errorf("older period wrong: %+v", results[1])
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}

	if p := percentile(sorted, 50); p != 30.0 {
		t.Errorf("p50 = %.1f, want 30.0", p)
	}
	if p := percentile(sorted, 95); p < 48.0 || p > 50.0 {
		t.Errorf("p95 = %.1f, want ~48-50", p)
	}
	if p := percentile(nil, 50); p != 0 {
		t.Errorf("empty percentile = %.1f, want 0", p)
	}
}
