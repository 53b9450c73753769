// Package runstore persists run reports and stage output as files under
// the stagehand home directory, one directory per run.
package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stagehand-ci/stagehand/internal/config"
	"github.com/stagehand-ci/stagehand/internal/engine"
)

// Store reads and writes run records under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns the store under the stagehand home directory.
func DefaultStore() *Store {
	return NewStore(filepath.Join(config.HomeDir(), "runs"))
}

// Summary is one row of a run listing.
type Summary struct {
	RunID      string         `json:"run_id"`
	Pipeline   string         `json:"pipeline"`
	Branch     string         `json:"branch,omitempty"`
	Outcome    engine.Outcome `json:"outcome"`
	Stages     int            `json:"stages"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// SaveReport writes the full run report.
func (s *Store) SaveReport(r *engine.Report) error {
	return WriteJSON(filepath.Join(s.runDir(r.RunID), "report.json"), r)
}

// LoadReport reads the report for a run. The error satisfies
// os.IsNotExist when the run is unknown.
func (s *Store) LoadReport(runID string) (*engine.Report, error) {
	var r engine.Report
	if err := ReadJSON(filepath.Join(s.runDir(runID), "report.json"), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveStageOutput writes captured stdout/stderr for one stage as log files.
func (s *Store) SaveStageOutput(runID, stage, stdout, stderr string) error {
	dir := filepath.Join(s.runDir(runID), "logs")
	if stdout != "" {
		if err := WriteAtomic(filepath.Join(dir, stage+".out"), []byte(stdout), 0o644); err != nil {
			return fmt.Errorf("saving stdout for %s: %w", stage, err)
		}
	}
	if stderr != "" {
		if err := WriteAtomic(filepath.Join(dir, stage+".err"), []byte(stderr), 0o644); err != nil {
			return fmt.Errorf("saving stderr for %s: %w", stage, err)
		}
	}
	return nil
}

// StageOutput reads the saved stdout and stderr for one stage. Missing
// log files read as empty strings.
func (s *Store) StageOutput(runID, stage string) (stdout, stderr string, err error) {
	dir := filepath.Join(s.runDir(runID), "logs")
	out, err := os.ReadFile(filepath.Join(dir, stage+".out"))
	if err != nil && !os.IsNotExist(err) {
		return "", "", err
	}
	errOut, err := os.ReadFile(filepath.Join(dir, stage+".err"))
	if err != nil && !os.IsNotExist(err) {
		return "", "", err
	}
	return string(out), string(errOut), nil
}

// List returns summaries for all stored runs, newest first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading run store: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.LoadReport(entry.Name())
		if err != nil {
			// Half-written or foreign directories are skipped, not fatal.
			continue
		}
		out = append(out, Summary{
			RunID:      r.RunID,
			Pipeline:   r.Pipeline,
			Branch:     r.Branch,
			Outcome:    r.Outcome,
			Stages:     len(r.Stages),
			StartedAt:  r.StartedAt,
			DurationMs: r.DurationMs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Delete removes everything stored for a run.
func (s *Store) Delete(runID string) error {
	return os.RemoveAll(s.runDir(runID))
}
