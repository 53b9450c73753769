package engine

import (
	"fmt"
	"time"
)

// Status of a single stage after a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome of a whole run. Aborted covers external aborts and infrastructure
// failures; both map to a non-zero exit for callers.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// CommandResult is the outcome of one command line within a stage.
type CommandResult struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// StageResult records how one stage ended. Skipped stages carry no output,
// no commands, and a zero exit code.
type StageResult struct {
	Name       string          `json:"name"`
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Commands   []CommandResult `json:"commands,omitempty"`
	ExitCode   int             `json:"exit_code"`
	Stdout     string          `json:"stdout,omitempty"`
	Stderr     string          `json:"stderr,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
}

// PostResult is the outcome of one post-action command.
type PostResult struct {
	Set        string `json:"set"` // always, success, or failure
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report is the full record of one pipeline run.
type Report struct {
	RunID       string        `json:"run_id"`
	Pipeline    string        `json:"pipeline"`
	Branch      string        `json:"branch,omitempty"`
	BuildNumber string        `json:"build_number,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	Stages      []StageResult `json:"stages"`
	Post        []PostResult  `json:"post,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	DurationMs  int64         `json:"duration_ms"`
}

// Failed reports whether the run ended in anything but success.
func (r *Report) Failed() bool {
	return r.Outcome != OutcomeSucceeded
}

// StageNames returns the stage names in result order.
func (r *Report) StageNames() []string {
	names := make([]string, len(r.Stages))
	for i, s := range r.Stages {
		names[i] = s.Name
	}
	return names
}

// TimeoutError reports a stage exceeding its execution deadline.
type TimeoutError struct {
	Stage string
	Limit time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("stage %q timed out after %s", e.Stage, e.Limit)
}

// InfraError wraps a backend failure that is not a command exit status: the
// execution environment itself broke, so the run cannot continue.
type InfraError struct {
	Stage string
	Err   error
}

func (e InfraError) Error() string {
	return fmt.Sprintf("stage %q: infrastructure failure: %v", e.Stage, e.Err)
}

func (e InfraError) Unwrap() error { return e.Err }
