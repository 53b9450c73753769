package history

import (
	"database/sql"
	"fmt"
)

// Run represents a row in the runs table.
type Run struct {
	RunID       string
	Pipeline    string
	Branch      string
	BuildNumber string
	Outcome     string
	Error       string
	Stages      int
	StartedAt   string
	FinishedAt  string
	DurationMs  int
}

// StageRow represents a row in the stage_results table.
type StageRow struct {
	ID         int
	RunID      string
	Stage      string
	Position   int
	Status     string
	Reason     string
	ExitCode   int
	DurationMs int
	StartedAt  string
}

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Event     string
	Stage     string
	Detail    string
	Timestamp string
}

// RecordRunStart inserts the run row in the "running" state.
func (d *DB) RecordRunStart(runID, pipeline, branch, buildNumber string, stages int) error {
	_, err := d.conn.Exec(
		`INSERT INTO runs (run_id, pipeline, branch, build_number, stages) VALUES (?, ?, ?, ?, ?)`,
		runID, pipeline, branch, buildNumber, stages,
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordStageResult appends one stage result to a run, positions assigned
// in insertion order.
func (d *DB) RecordStageResult(runID, stage, status, reason string, exitCode int, durationMs int64) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_results (run_id, stage, position, status, reason, exit_code, duration_ms)
		 VALUES (?, ?, (SELECT COUNT(*) FROM stage_results WHERE run_id = ?), ?, ?, ?, ?)`,
		runID, stage, runID, status, reason, exitCode, durationMs,
	)
	if err != nil {
		return fmt.Errorf("record stage result: %w", err)
	}
	return nil
}

// RecordRunFinish marks the run finished with its outcome.
func (d *DB) RecordRunFinish(runID, outcome, errMsg string, durationMs int64) error {
	res, err := d.conn.Exec(
		`UPDATE runs SET outcome = ?, error = ?, finished_at = datetime('now'), duration_ms = ? WHERE run_id = ?`,
		outcome, errMsg, durationMs, runID,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %q not found", runID)
	}
	return nil
}

// RecordEvent appends a lifecycle event for a run.
func (d *DB) RecordEvent(runID, event, stage, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (run_id, event, stage, detail) VALUES (?, ?, ?, ?)`,
		runID, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// GetRun returns one run by ID, or nil if unknown.
func (d *DB) GetRun(runID string) (*Run, error) {
	row := d.conn.QueryRow(
		`SELECT run_id, pipeline, branch, build_number, outcome, error, stages, started_at, finished_at, duration_ms
		 FROM runs WHERE run_id = ?`,
		runID,
	)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. An empty pipeline
// matches all pipelines; limit <= 0 means no limit.
func (d *DB) ListRuns(pipeline string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.conn.Query(
		`SELECT run_id, pipeline, branch, build_number, outcome, error, stages, started_at, finished_at, duration_ms
		 FROM runs WHERE (? = '' OR pipeline = ?) ORDER BY started_at DESC, run_id DESC LIMIT ?`,
		pipeline, pipeline, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanRun(scan func(...interface{}) error) (*Run, error) {
	var r Run
	var branch, buildNumber, errMsg, finishedAt sql.NullString
	var durationMs sql.NullInt64
	if err := scan(&r.RunID, &r.Pipeline, &branch, &buildNumber, &r.Outcome, &errMsg, &r.Stages, &r.StartedAt, &finishedAt, &durationMs); err != nil {
		return nil, err
	}
	if branch.Valid {
		r.Branch = branch.String
	}
	if buildNumber.Valid {
		r.BuildNumber = buildNumber.String
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.String
	}
	if durationMs.Valid {
		r.DurationMs = int(durationMs.Int64)
	}
	return &r, nil
}

// GetStageResults returns the stage results for a run in pipeline order.
func (d *DB) GetStageResults(runID string) ([]StageRow, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, stage, position, status, reason, exit_code, duration_ms, started_at
		 FROM stage_results WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get stage results: %w", err)
	}
	defer rows.Close()

	var results []StageRow
	for rows.Next() {
		var s StageRow
		var reason, startedAt sql.NullString
		var exitCode, durationMs sql.NullInt64
		if err := rows.Scan(&s.ID, &s.RunID, &s.Stage, &s.Position, &s.Status, &reason, &exitCode, &durationMs, &startedAt); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		if reason.Valid {
			s.Reason = reason.String
		}
		if exitCode.Valid {
			s.ExitCode = int(exitCode.Int64)
		}
		if durationMs.Valid {
			s.DurationMs = int(durationMs.Int64)
		}
		if startedAt.Valid {
			s.StartedAt = startedAt.String
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// GetRunEvents returns the lifecycle events for a run in order.
func (d *DB) GetRunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, event, stage, detail, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &stage, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if stage.Valid {
			e.Stage = stage.String
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneRuns deletes the oldest runs beyond keep, returning how many were
// removed. Stage results cascade; events carry no foreign key and are
// swept separately.
func (d *DB) PruneRuns(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := d.conn.Exec(
		`DELETE FROM runs WHERE run_id NOT IN (
			SELECT run_id FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if _, err := d.conn.Exec(`DELETE FROM run_events WHERE run_id NOT IN (SELECT run_id FROM runs)`); err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return int(n), nil
}
