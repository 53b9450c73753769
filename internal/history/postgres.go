package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagehand-ci/stagehand/internal/engine"
)

// PostgresSink mirrors run history into a shared Postgres database so
// results from many machines aggregate in one place. It is wired in when
// the STAGEHAND_POSTGRES_DSN environment variable is set.
type PostgresSink struct {
	pool *pgxpool.Pool
}

const pgOpTimeout = 5 * time.Second

const pgSchema = `
CREATE TABLE IF NOT EXISTS stagehand_runs (
    run_id       TEXT PRIMARY KEY,
    pipeline     TEXT NOT NULL,
    branch       TEXT,
    build_number TEXT,
    outcome      TEXT NOT NULL DEFAULT 'running',
    error        TEXT,
    stages       INTEGER NOT NULL DEFAULT 0,
    started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at  TIMESTAMPTZ,
    duration_ms  BIGINT
);

CREATE TABLE IF NOT EXISTS stagehand_stage_results (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES stagehand_runs(run_id) ON DELETE CASCADE,
    stage       TEXT NOT NULL,
    status      TEXT NOT NULL,
    reason      TEXT,
    exit_code   INTEGER,
    duration_ms BIGINT
);
CREATE INDEX IF NOT EXISTS idx_stagehand_stage_run ON stagehand_stage_results(run_id);
`

// NewPostgresSink connects to Postgres, verifies the connection, and
// ensures the stagehand tables exist.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

func (s *PostgresSink) RunStarted(info engine.RunInfo) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stagehand_runs (run_id, pipeline, branch, build_number, stages, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id) DO NOTHING`,
		info.RunID, info.Pipeline, info.Branch, info.BuildNumber, len(info.Stages), info.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

func (s *PostgresSink) StageStarted(info engine.RunInfo, stage string) error {
	return nil
}

func (s *PostgresSink) StageFinished(info engine.RunInfo, res engine.StageResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stagehand_stage_results (run_id, stage, status, reason, exit_code, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		info.RunID, res.Name, string(res.Status), res.Reason, res.ExitCode, res.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("record stage result: %w", err)
	}
	return nil
}

func (s *PostgresSink) PostActionFinished(info engine.RunInfo, res engine.PostResult) error {
	return nil
}

func (s *PostgresSink) RunFinished(r *engine.Report) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`UPDATE stagehand_runs
		 SET outcome = $2, error = $3, finished_at = $4, duration_ms = $5
		 WHERE run_id = $1`,
		r.RunID, string(r.Outcome), r.Error, r.FinishedAt, r.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}
