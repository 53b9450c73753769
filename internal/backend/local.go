package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

const (
	defaultMaxOutput = 1 << 20 // 1 MiB per stream
	defaultKillGrace = 5 * time.Second
)

// Local executes commands on the host. Requests naming a container image are
// wrapped in `docker run`; everything else goes straight through the shell.
type Local struct {
	Shell     string        // shell binary, default "sh"
	DockerBin string        // docker binary, default "docker"
	MaxOutput int           // per-stream capture cap in bytes
	KillGrace time.Duration // SIGTERM → SIGKILL grace on cancellation
}

// NewLocal returns a Local backend with defaults applied.
func NewLocal() *Local {
	return &Local{
		Shell:     "sh",
		DockerBin: "docker",
		MaxOutput: defaultMaxOutput,
		KillGrace: defaultKillGrace,
	}
}

func (l *Local) Run(ctx context.Context, req Request) (*Result, error) {
	name, args := l.argv(req)

	cmd := exec.CommandContext(ctx, name, args...)
	if req.Image == "" {
		cmd.Dir = req.Dir
		cmd.Env = req.Env
	}

	maxOutput := l.MaxOutput
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	var stdout, stderr bytes.Buffer
	outW := &limitWriter{buf: &stdout, limit: maxOutput}
	errW := &limitWriter{buf: &stderr, limit: maxOutput}
	cmd.Stdout = outW
	cmd.Stderr = errW

	// Stage commands spawn children (test runners, compilers); the whole
	// process group must die on cancellation, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	grace := l.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	cmd.WaitDelay = grace

	start := time.Now()
	runErr := cmd.Run()

	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: outW.truncated || errW.truncated,
	}

	// Cancellation and deadline are normal results: the engine decides what
	// a terminated stage means.
	if ctx.Err() != nil {
		res.ExitCode = -1
		res.TimedOut = ctx.Err() == context.DeadlineExceeded
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		// Binary not found or other spawn failure.
		return res, fmt.Errorf("executing %s: %w", name, runErr)
	}
	return res, nil
}

// argv builds the command line for a request: a plain shell invocation on the
// host, or a docker run wrapping the same shell invocation for image mode.
func (l *Local) argv(req Request) (string, []string) {
	shell := l.Shell
	if shell == "" {
		shell = "sh"
	}
	if req.Image == "" {
		return shell, []string{"-c", req.Command}
	}

	args := []string{"run", "--rm"}
	if req.Dir != "" {
		args = append(args, "-w", req.Dir)
	}
	for _, m := range req.Mounts {
		args = append(args, "-v", m)
	}
	for _, kv := range req.Env {
		args = append(args, "-e", kv)
	}
	args = append(args, req.Args...)
	args = append(args, req.Image, shell, "-c", req.Command)

	docker := l.DockerBin
	if docker == "" {
		docker = "docker"
	}
	return docker, args
}
