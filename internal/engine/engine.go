// Package engine drives pipeline runs: it evaluates guards, sequences stages
// through an execution backend, moves artifacts between stages, applies
// error policies, and fires the post-actions exactly once per run.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-ci/stagehand/internal/artifact"
	"github.com/stagehand-ci/stagehand/internal/backend"
	"github.com/stagehand-ci/stagehand/internal/config"
	"github.com/stagehand-ci/stagehand/internal/guard"
)

// Engine executes pipeline runs.
type Engine struct {
	backend   backend.Backend
	artifacts *artifact.Store
	observer  Observer
	hostEnv   []string  // base process environment for host-mode stages
	progress  io.Writer // live progress output; nil = silent
}

// New creates an engine over the given backend and artifact store.
func New(be backend.Backend, artifacts *artifact.Store) *Engine {
	return &Engine{
		backend:   be,
		artifacts: artifacts,
		observer:  NopObserver{},
		hostEnv:   os.Environ(),
	}
}

// SetObserver attaches a lifecycle observer (history, run store, sinks).
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	e.observer = o
}

// SetProgress sets a writer for live progress output (e.g. os.Stdout).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// SetHostEnv overrides the base process environment (for testing).
func (e *Engine) SetHostEnv(env []string) {
	e.hostEnv = env
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// observe reports observer errors without failing the run.
func (e *Engine) observe(err error) {
	if err != nil {
		e.logf("observer: %v", err)
	}
}

// RunOpts configures a pipeline run.
type RunOpts struct {
	RunID        string        // minted when empty
	Workdir      string        // host working directory; defaults to the process cwd
	Branch       string        // target branch, exposed as BRANCH and guard `branch`
	BuildNumber  string        // build identifier, exposed as BUILD_NUMBER
	StageTimeout time.Duration // when set, caps every stage regardless of config
}

// Run executes the pipeline and returns its report. The returned error is
// non-nil only when the run could not start at all; stage failures, timeouts,
// aborts, and infrastructure breakage are all recorded on the report.
func (e *Engine) Run(ctx context.Context, cfg *config.PipelineConfig, opts RunOpts) (*Report, error) {
	p := &cfg.Pipeline

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	workdir := opts.Workdir
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve workdir: %w", err)
		}
		workdir = wd
	}
	workdir, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}

	start := time.Now()
	report := &Report{
		RunID:       runID,
		Pipeline:    p.Name,
		Branch:      opts.Branch,
		BuildNumber: opts.BuildNumber,
		StartedAt:   start,
	}
	info := RunInfo{
		RunID:       runID,
		Pipeline:    p.Name,
		Branch:      opts.Branch,
		BuildNumber: opts.BuildNumber,
		StartedAt:   start,
	}
	for _, st := range p.Stages {
		info.Stages = append(info.Stages, st.Name)
	}

	// The run view: injected builtins plus the expanded global env. Guards
	// and ${NAME} references resolve against this view; it grows only
	// through stage exports, each stage seeing an immutable snapshot.
	builtins := map[string]string{
		"RUN_ID":       runID,
		"PIPELINE":     p.Name,
		"BUILD_NUMBER": opts.BuildNumber,
		"BRANCH":       opts.Branch,
	}
	globalEnv, err := config.ExpandAll(p.Env, builtins)
	if err != nil {
		return nil, fmt.Errorf("expand pipeline env: %w", err)
	}
	view := make(map[string]string, len(builtins)+len(globalEnv))
	for k, v := range globalEnv {
		view[k] = v
	}
	// Builtins win over pipeline env: a pipeline cannot spoof its own run id.
	for k, v := range builtins {
		view[k] = v
	}

	e.observe(e.observer.RunStarted(info))
	e.logf("run %s: pipeline %q, %d stage(s)", shortID(runID), p.Name, len(p.Stages))

	var (
		anyFailed  bool
		aborted    bool
		abortMsg   string
		skipReason string
	)

	for i := range p.Stages {
		st := &p.Stages[i]

		if skipReason == "" && ctx.Err() != nil {
			aborted = true
			abortMsg = "run aborted"
			skipReason = "run aborted"
		}

		if skipReason != "" {
			res := skipResult(st.Name, skipReason)
			report.Stages = append(report.Stages, res)
			e.observe(e.observer.StageFinished(info, res))
			e.logf("stage %q: skipped (%s)", st.Name, res.Reason)
			continue
		}

		e.observe(e.observer.StageStarted(info, st.Name))
		res, exports, infraErr := e.runStage(ctx, st, runID, workdir, view, opts)
		report.Stages = append(report.Stages, res)
		e.observe(e.observer.StageFinished(info, res))

		switch res.Status {
		case StatusSucceeded:
			e.logf("stage %q: succeeded (%dms)", st.Name, res.DurationMs)
			for k, v := range exports {
				view[k] = v
			}
		case StatusSkipped:
			e.logf("stage %q: skipped (%s)", st.Name, res.Reason)
		case StatusFailed:
			anyFailed = true
			e.logf("stage %q: failed (%s)", st.Name, res.Reason)
			switch {
			case infraErr != nil:
				aborted = true
				abortMsg = infraErr.Error()
				skipReason = "run aborted"
			case ctx.Err() != nil:
				aborted = true
				abortMsg = "run aborted"
				skipReason = "run aborted"
			case st.Policy != config.PolicyContinueOnError:
				skipReason = fmt.Sprintf("stage %q failed", st.Name)
			}
		}
	}

	// Post-actions run exactly once, even after an abort, under a fresh
	// context: cleanup must not be cancelled by the signal that stopped
	// the stages. Their failures mark the run failed but never re-enter
	// the stage sequence.
	succeeded := !anyFailed && !aborted
	postTimeout := opts.StageTimeout
	if postTimeout <= 0 {
		if d, perr := time.ParseDuration(p.Defaults.Timeout); perr == nil && d > 0 {
			postTimeout = d
		} else {
			postTimeout = 10 * time.Minute
		}
	}

	// The always set runs first, then the set matching the stage outcome.
	sets := make([]postSet, 0, 2)
	sets = append(sets, postSet{"always", p.Post.Always})
	if succeeded {
		sets = append(sets, postSet{"success", p.Post.Success})
	} else {
		sets = append(sets, postSet{"failure", p.Post.Failure})
	}

	postFailed := false
	for _, set := range sets {
		for _, command := range set.cmds {
			pres := e.runPost(set.name, command, workdir, view, postTimeout)
			report.Post = append(report.Post, pres)
			e.observe(e.observer.PostActionFinished(info, pres))
			if pres.ExitCode != 0 || pres.Error != "" {
				postFailed = true
				e.logf("post %s: %q failed (exit %d)", set.name, command, pres.ExitCode)
			} else {
				e.logf("post %s: %q ok", set.name, command)
			}
		}
	}

	switch {
	case aborted:
		report.Outcome = OutcomeAborted
		report.Error = abortMsg
	case anyFailed || postFailed:
		report.Outcome = OutcomeFailed
	default:
		report.Outcome = OutcomeSucceeded
	}
	report.FinishedAt = time.Now()
	report.DurationMs = time.Since(start).Milliseconds()

	e.observe(e.observer.RunFinished(report))
	e.logf("run %s: %s (%dms)", shortID(runID), report.Outcome, report.DurationMs)
	return report, nil
}

type postSet struct {
	name string
	cmds []string
}

// runStage executes one stage: guard, unstash, commands, stash, export.
// A non-nil infraErr means the backend itself broke and the run must abort.
func (e *Engine) runStage(ctx context.Context, st *config.Stage, runID, workdir string, view map[string]string, opts RunOpts) (res StageResult, exports map[string]string, infraErr error) {
	start := time.Now()
	res = StageResult{Name: st.Name, Status: StatusFailed, StartedAt: start}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	gview := copyView(view)
	gview["STAGE_NAME"] = st.Name

	// Guard first: a false guard means zero side effects for this stage.
	if st.When != "" {
		ok, err := guard.Eval(st.When, guard.Context{
			Branch:      opts.Branch,
			BuildNumber: opts.BuildNumber,
			Vars:        gview,
		})
		if err != nil {
			res.Reason = "guard error"
			res.Error = err.Error()
			return res, nil, nil
		}
		if !ok {
			res.Status = StatusSkipped
			res.Reason = fmt.Sprintf("guard %q is false", st.When)
			return res, nil, nil
		}
	}

	stageEnv, err := config.ExpandAll(st.Env, gview)
	if err != nil {
		res.Reason = "bad stage env"
		res.Error = err.Error()
		return res, nil, nil
	}
	sview := copyView(gview)
	for k, v := range stageEnv {
		sview[k] = v
	}

	image, err := config.Expand(st.Image, sview)
	if err != nil {
		res.Reason = "bad image reference"
		res.Error = err.Error()
		return res, nil, nil
	}
	mounts, err := config.ExpandSlice(st.Mounts, sview)
	if err != nil {
		res.Reason = "bad mounts"
		res.Error = err.Error()
		return res, nil, nil
	}
	args, err := config.ExpandSlice(st.Args, sview)
	if err != nil {
		res.Reason = "bad args"
		res.Error = err.Error()
		return res, nil, nil
	}
	dir, err := config.Expand(st.Workdir, sview)
	if err != nil {
		res.Reason = "bad workdir"
		res.Error = err.Error()
		return res, nil, nil
	}

	// Host-mode stages run in the stage workdir resolved against the run
	// workdir. Image-mode stages treat the workdir as a container path and
	// keep artifact traffic on the host side of the mounts.
	var execDir string
	if image != "" {
		if dir != "" && dir != "." {
			execDir = dir
		}
	} else {
		if filepath.IsAbs(dir) {
			execDir = filepath.Clean(dir)
		} else {
			execDir = filepath.Join(workdir, dir)
		}
	}
	hostDir := execDir
	if image != "" || hostDir == "" {
		hostDir = workdir
	}

	for _, key := range st.Unstash {
		if _, err := e.artifacts.Unstash(runID, key, hostDir); err != nil {
			res.Reason = "unstash failed"
			res.Error = err.Error()
			return res, nil, nil
		}
		e.logf("stage %q: unstashed %q", st.Name, key)
	}

	var execEnv []string
	if image == "" {
		execEnv = append(execEnv, e.hostEnv...)
	}
	execEnv = append(execEnv, toEnvList(sview)...)

	deadline := opts.StageTimeout
	if deadline <= 0 {
		if d, perr := time.ParseDuration(st.Timeout); perr == nil && d > 0 {
			deadline = d
		} else {
			deadline = 10 * time.Minute
		}
	}
	stageCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Commands run in order under one shared stage deadline; the first
	// non-zero exit fails the stage and leaves the rest unrun.
	for _, command := range st.Run {
		r, err := e.backend.Run(stageCtx, backend.Request{
			Stage:   st.Name,
			Command: command,
			Dir:     execDir,
			Env:     execEnv,
			Image:   image,
			Mounts:  mounts,
			Args:    args,
		})
		if err != nil {
			infra := InfraError{Stage: st.Name, Err: err}
			res.Reason = "infrastructure failure"
			res.Error = infra.Error()
			res.ExitCode = -1
			return res, nil, infra
		}

		res.Commands = append(res.Commands, CommandResult{
			Command:    command,
			ExitCode:   r.ExitCode,
			Stdout:     r.Stdout,
			Stderr:     r.Stderr,
			DurationMs: r.Duration.Milliseconds(),
		})
		res.Stdout += r.Stdout
		res.Stderr += r.Stderr
		res.ExitCode = r.ExitCode

		if r.TimedOut {
			terr := TimeoutError{Stage: st.Name, Limit: deadline}
			res.Reason = "timeout"
			res.Error = terr.Error()
			return res, nil, nil
		}
		if ctx.Err() != nil {
			res.Reason = "aborted"
			res.Error = "run aborted during stage"
			return res, nil, nil
		}
		if r.ExitCode != 0 {
			res.Reason = fmt.Sprintf("command exited %d", r.ExitCode)
			return res, nil, nil
		}
	}

	// Stash and export happen only after every command succeeded.
	if st.Stash != nil {
		paths, err := config.ExpandSlice(st.Stash.Paths, sview)
		if err != nil {
			res.Reason = "bad stash paths"
			res.Error = err.Error()
			return res, nil, nil
		}
		if _, err := e.artifacts.Stash(runID, st.Stash.Key, hostDir, paths); err != nil {
			res.Reason = "stash failed"
			res.Error = err.Error()
			return res, nil, nil
		}
		e.logf("stage %q: stashed %q", st.Name, st.Stash.Key)
	}

	if len(st.Export) > 0 {
		exports, err = config.ExpandAll(st.Export, sview)
		if err != nil {
			res.Reason = "bad export"
			res.Error = err.Error()
			return res, nil, nil
		}
	}

	res.Status = StatusSucceeded
	res.Reason = ""
	return res, exports, nil
}

// runPost executes one post-action command on the host with the final env view.
func (e *Engine) runPost(set, command, workdir string, view map[string]string, timeout time.Duration) PostResult {
	pres := PostResult{Set: set, Command: command}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	env := append(append([]string{}, e.hostEnv...), toEnvList(view)...)
	r, err := e.backend.Run(ctx, backend.Request{
		Stage:   "post:" + set,
		Command: command,
		Dir:     workdir,
		Env:     env,
	})
	if err != nil {
		pres.ExitCode = -1
		pres.Error = err.Error()
		return pres
	}
	pres.ExitCode = r.ExitCode
	pres.Stdout = r.Stdout
	pres.Stderr = r.Stderr
	pres.DurationMs = r.Duration.Milliseconds()
	if r.TimedOut {
		pres.Error = fmt.Sprintf("timed out after %s", timeout)
	}
	return pres
}

func skipResult(name, reason string) StageResult {
	return StageResult{
		Name:      name,
		Status:    StatusSkipped,
		Reason:    reason,
		StartedAt: time.Now(),
	}
}

func copyView(view map[string]string) map[string]string {
	out := make(map[string]string, len(view)+1)
	for k, v := range view {
		out[k] = v
	}
	return out
}

// toEnvList renders the view as sorted KEY=VALUE pairs so command
// environments are deterministic.
func toEnvList(view map[string]string) []string {
	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + view[k]
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
