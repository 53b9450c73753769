// Package stats computes aggregate metrics over recorded pipeline runs.
package stats

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by stats.
type DB interface {
	Conn() *sql.DB
}

// PipelineSummary holds outcome counts for one pipeline.
type PipelineSummary struct {
	Pipeline    string  `json:"pipeline"`
	Runs        int     `json:"runs"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Aborted     int     `json:"aborted"`
	SuccessRate float64 `json:"success_rate_pct"`
	AvgSeconds  float64 `json:"avg_seconds"`
}

// QueryPipelineSummaries returns per-pipeline outcome counts for finished
// runs. since filters on started_at when non-empty.
func QueryPipelineSummaries(database DB, since string) ([]PipelineSummary, error) {
	query := `
		SELECT pipeline,
			COUNT(*) as runs,
			SUM(CASE WHEN outcome = 'succeeded' THEN 1 ELSE 0 END) as succeeded,
			SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN outcome = 'aborted' THEN 1 ELSE 0 END) as aborted,
			AVG(duration_ms) as avg_ms
		FROM runs
		WHERE outcome != 'running'`

	args := []interface{}{}
	if since != "" {
		query += ` AND started_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY pipeline ORDER BY pipeline`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipeline summaries: %w", err)
	}
	defer rows.Close()

	var results []PipelineSummary
	for rows.Next() {
		var s PipelineSummary
		var avgMs sql.NullFloat64
		if err := rows.Scan(&s.Pipeline, &s.Runs, &s.Succeeded, &s.Failed, &s.Aborted, &avgMs); err != nil {
			return nil, fmt.Errorf("scan pipeline summary: %w", err)
		}
		s.SuccessRate = pct(s.Succeeded, s.Runs)
		if avgMs.Valid {
			s.AvgSeconds = math.Round(avgMs.Float64/100) / 10
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile durations per stage,
// skipped stages excluded.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT sr.stage, sr.duration_ms
		FROM stage_results sr
		JOIN runs r ON r.run_id = sr.run_id
		WHERE sr.status != 'skipped' AND sr.duration_ms IS NOT NULL`

	args := []interface{}{}
	if since != "" {
		query += ` AND r.started_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var durationMs int64
		if err := rows.Scan(&stage, &durationMs); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		stageDurations[stage] = append(stageDurations[stage], float64(durationMs)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// StageFailureRate holds pass/fail counts for a stage.
type StageFailureRate struct {
	Stage    string  `json:"stage"`
	Executed int     `json:"executed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	FailRate float64 `json:"fail_rate_pct"`
}

// QueryStageFailureRates returns how often each stage fails. The fail rate
// denominator counts executed stages only; skips are reported separately.
func QueryStageFailureRates(database DB, since string) ([]StageFailureRate, error) {
	query := `
		SELECT sr.stage,
			SUM(CASE WHEN sr.status != 'skipped' THEN 1 ELSE 0 END) as executed,
			SUM(CASE WHEN sr.status = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN sr.status = 'skipped' THEN 1 ELSE 0 END) as skipped
		FROM stage_results sr
		JOIN runs r ON r.run_id = sr.run_id`

	args := []interface{}{}
	if since != "" {
		query += ` WHERE r.started_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY sr.stage ORDER BY sr.stage`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage failure rates: %w", err)
	}
	defer rows.Close()

	var results []StageFailureRate
	for rows.Next() {
		var s StageFailureRate
		if err := rows.Scan(&s.Stage, &s.Executed, &s.Failed, &s.Skipped); err != nil {
			return nil, fmt.Errorf("scan stage failure rate: %w", err)
		}
		s.FailRate = pct(s.Failed, s.Executed)
		results = append(results, s)
	}
	return results, rows.Err()
}

// Throughput holds run counts for a time period.
type Throughput struct {
	Period     string  `json:"period"`
	Runs       int     `json:"runs"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Aborted    int     `json:"aborted"`
	AvgSeconds float64 `json:"avg_seconds"`
}

// QueryThroughput returns run metrics grouped by week, newest first.
func QueryThroughput(database DB, since string) ([]Throughput, error) {
	query := `
		SELECT
			strftime('%Y-W%W', started_at) as period,
			COUNT(*) as runs,
			SUM(CASE WHEN outcome = 'succeeded' THEN 1 ELSE 0 END) as succeeded,
			SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN outcome = 'aborted' THEN 1 ELSE 0 END) as aborted,
			AVG(duration_ms) as avg_ms
		FROM runs
		WHERE outcome != 'running'`

	args := []interface{}{}
	if since != "" {
		query += ` AND started_at >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	var results []Throughput
	for rows.Next() {
		var t Throughput
		var avgMs sql.NullFloat64
		if err := rows.Scan(&t.Period, &t.Runs, &t.Succeeded, &t.Failed, &t.Aborted, &avgMs); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		if avgMs.Valid {
			t.AvgSeconds = math.Round(avgMs.Float64/100) / 10
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
